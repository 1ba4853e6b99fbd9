package validator

import (
	"strconv"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ValidNHSNumber reports whether n is a ten-digit NHS number with a valid
// modulus-11 check digit. The first nine digits are weighted 10 down to 2;
// the check digit is 11 minus the weighted sum mod 11, with 11 treated as 0
// and 10 marking the number as invalid.
func ValidNHSNumber(n int64) bool {
	s := strconv.FormatInt(n, 10)
	if len(s) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(s[i]-'0') * (10 - i)
	}

	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}
	return check == int(s[9]-'0')
}

func validateNHSNumberField(fl validator.FieldLevel) bool {
	return ValidNHSNumber(fl.Field().Int())
}

// Register installs the nhsnumber validation tag on gin's request binding.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("nhsnumber", validateNHSNumberField)
}
