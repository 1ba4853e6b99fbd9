package transformation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
)

type Config struct {
	RuleWorkers int
}

func (c *Config) defaults() {
	if c.RuleWorkers <= 0 {
		c.RuleWorkers = 4
	}
}

// Snapshot is one side of a transformation: the demographic and management
// state either as stored (inbound) or as adjusted for distribution (outbound).
type Snapshot struct {
	Demographic *model.Demographic           `json:"demographic,omitempty"`
	Management  *model.ParticipantManagement `json:"management,omitempty"`
}

// Output reports one participant's transformation. The stored rows are never
// written; Outbound is a derived view, so running the same input twice yields
// the same output.
type Output struct {
	NHSNumber    int64        `json:"nhs_number"`
	Inbound      Snapshot     `json:"inbound"`
	Outbound     Snapshot     `json:"outbound"`
	Results      []RuleResult `json:"results"`
	RulesApplied int          `json:"rules_applied"`
	FieldChanges int          `json:"field_changes"`
	HadErrors    bool         `json:"had_errors"`
}

// Service applies the outbound adjustment rules to participants. Conditional
// rules touch disjoint fields and run concurrently; character replacement
// rules run sequentially afterwards because they may share target fields.
type Service struct {
	demographicRepo repository.DemographicRepository
	participantRepo repository.ParticipantRepository

	conditional []ConditionalRule
	replacement []ReplacementRule
	logger      *logger.Logger
	cfg         Config
}

func NewService(
	demographicRepo repository.DemographicRepository,
	participantRepo repository.ParticipantRepository,
	conditional []ConditionalRule,
	replacement []ReplacementRule,
	log *logger.Logger,
	cfg Config,
) *Service {
	cfg.defaults()
	return &Service{
		demographicRepo: demographicRepo,
		participantRepo: participantRepo,
		conditional:     conditional,
		replacement:     replacement,
		logger:          log,
		cfg:             cfg,
	}
}

// TransformParticipant loads the stored state for one identifier and derives
// the outbound snapshot. A rule that fails is reported in the output; it does
// not abort the remaining rules.
func (s *Service) TransformParticipant(ctx context.Context, nhsNumber int64) (*Output, error) {
	demographic, err := s.demographicRepo.GetByNHSNumber(ctx, nhsNumber)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	management, err := s.participantRepo.GetByNHSNumber(ctx, nhsNumber)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if demographic == nil && management == nil {
		return nil, apperrors.NotFound("participant", nil)
	}
	return s.Transform(ctx, demographic, management), nil
}

// Transform derives the outbound snapshot from the given state without
// touching any store.
func (s *Service) Transform(ctx context.Context, demographic *model.Demographic, management *model.ParticipantManagement) *Output {
	out := &Output{
		Inbound: Snapshot{Demographic: demographic, Management: management},
	}
	if demographic != nil {
		out.NHSNumber = demographic.NHSNumber
	} else if management != nil {
		out.NHSNumber = management.NHSNumber
	}

	// Working copies. Rules replace pointer fields rather than writing
	// through them, so shallow copies keep the inbound snapshot intact.
	var workD *model.Demographic
	var workP *model.ParticipantManagement
	if demographic != nil {
		cp := *demographic
		workD = &cp
	}
	if management != nil {
		cp := *management
		workP = &cp
	}

	condResults := make([]RuleResult, len(s.conditional))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RuleWorkers)
	for i, rule := range s.conditional {
		i, rule := i, rule
		g.Go(func() error {
			condResults[i] = s.applyConditional(rule, workD, workP)
			return nil
		})
	}
	_ = g.Wait()
	out.Results = append(out.Results, condResults...)

	for _, rule := range s.replacement {
		out.Results = append(out.Results, s.applyReplacement(rule, workD, workP))
	}

	for _, res := range out.Results {
		if res.Error != "" {
			out.HadErrors = true
			continue
		}
		if res.Applied {
			out.RulesApplied++
			out.FieldChanges += len(res.Changes)
		}
	}

	out.Outbound = Snapshot{Demographic: workD, Management: workP}
	return out
}

func (s *Service) applyConditional(rule ConditionalRule, d *model.Demographic, p *model.ParticipantManagement) (result RuleResult) {
	result = RuleResult{RuleName: rule.Name}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "transformation rule panicked", "rule", rule.Name)
			result.Applied = false
			result.Changes = nil
			result.Error = fmt.Sprintf("rule execution failed: %v", r)
		}
	}()

	if !rule.Condition(d, p) {
		return result
	}
	result.Changes = rule.Update(d, p)
	result.Applied = len(result.Changes) > 0
	return result
}

func (s *Service) applyReplacement(rule ReplacementRule, d *model.Demographic, p *model.ParticipantManagement) (result RuleResult) {
	result = RuleResult{RuleName: rule.Name}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "transformation rule panicked", "rule", rule.Name)
			result.Applied = false
			result.Changes = nil
			result.Error = fmt.Sprintf("rule execution failed: %v", r)
		}
	}()

	replacer := strings.NewReplacer(rule.Replacements...)
	for _, field := range rule.Fields {
		if d == nil {
			break
		}
		cur := field.Get(d, p)
		if cur == nil || *cur == "" {
			continue
		}
		next := replacer.Replace(*cur)
		if next == *cur {
			continue
		}
		field.Set(d, p, next)
		result.Changes = append(result.Changes, FieldChange{Field: field.Name, Old: *cur, New: next})
	}
	result.Applied = len(result.Changes) > 0
	return result
}
