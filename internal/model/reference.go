package model

import "time"

// GPPractice is one row of the read-only GP practice reference set, seeded by
// the external reference-data loader.
type GPPractice struct {
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Postcode  *string   `db:"postcode" json:"postcode,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
