package validation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
)

const gpPracticesCacheKey = "gp_practices"

type Config struct {
	RuleWorkers       int
	ReferenceCacheTTL time.Duration
}

func (c *Config) defaults() {
	if c.RuleWorkers <= 0 {
		c.RuleWorkers = 8
	}
	if c.ReferenceCacheTTL <= 0 {
		c.ReferenceCacheTTL = 5 * time.Minute
	}
}

// Service evaluates the registered rule set against participants. All rules
// always run; evaluation is concurrent but the outcome slice is ordered by
// rule ID, so identical inputs always produce identical output.
type Service struct {
	demographicRepo repository.DemographicRepository
	participantRepo repository.ParticipantRepository
	referenceRepo   repository.ReferenceRepository

	rules  []Rule
	cache  *gocache.Cache
	logger *logger.Logger
	cfg    Config
}

func NewService(
	demographicRepo repository.DemographicRepository,
	participantRepo repository.ParticipantRepository,
	referenceRepo repository.ReferenceRepository,
	rules []Rule,
	log *logger.Logger,
	cfg Config,
) (*Service, error) {
	cfg.defaults()

	if len(rules) == 0 {
		return nil, apperrors.BadRequest("rule set is empty", nil)
	}
	if len(rules) > MaxRules {
		return nil, apperrors.BadRequest(
			fmt.Sprintf("rule set has %d rules, maximum is %d", len(rules), MaxRules), nil)
	}
	seen := make(map[int]string, len(rules))
	for _, r := range rules {
		if r.Check == nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("rule %d has no check", r.ID), nil)
		}
		if other, ok := seen[r.ID]; ok {
			return nil, apperrors.BadRequest(
				fmt.Sprintf("duplicate rule id %d (%s, %s)", r.ID, other, r.Name), nil)
		}
		seen[r.ID] = r.Name
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return &Service{
		demographicRepo: demographicRepo,
		participantRepo: participantRepo,
		referenceRepo:   referenceRepo,
		rules:           sorted,
		cache:           gocache.New(cfg.ReferenceCacheTTL, 2*cfg.ReferenceCacheTTL),
		logger:          log,
		cfg:             cfg,
	}, nil
}

// Rules returns the registered rule set in evaluation order.
func (s *Service) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ValidateParticipant assembles the rule context for one identifier and runs
// the full rule set.
func (s *Service) ValidateParticipant(ctx context.Context, nhsNumber int64) (*model.ValidationSummary, error) {
	rc, err := s.buildContext(ctx, nhsNumber)
	if err != nil {
		return nil, err
	}
	outcomes := s.evaluate(ctx, rc)

	summary := &model.ValidationSummary{
		NHSNumber: nhsNumber,
		Passed:    true,
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		if o.Failed() {
			summary.Passed = false
			break
		}
	}
	return summary, nil
}

// ValidateBatch validates the identifiers concurrently, bounded by the
// configured worker limit. Unknown identifiers are skipped; a store failure
// for any identifier fails the batch.
func (s *Service) ValidateBatch(ctx context.Context, nhsNumbers []int64) (map[int64]*model.ValidationSummary, error) {
	if len(nhsNumbers) == 0 {
		return nil, apperrors.BadRequest("no NHS numbers supplied", nil)
	}

	var mu sync.Mutex
	out := make(map[int64]*model.ValidationSummary, len(nhsNumbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RuleWorkers)
	for _, nhs := range nhsNumbers {
		nhs := nhs
		g.Go(func() error {
			summary, err := s.ValidateParticipant(gctx, nhs)
			if err != nil {
				if apperrors.IsNotFound(err) {
					s.logger.Warn("skipping unknown participant", "nhs_number", nhs)
					return nil
				}
				return err
			}
			mu.Lock()
			out[nhs] = summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// evaluate fans the rule set out over a bounded worker group. Each rule owns
// one fixed slot in the result slice, so no two goroutines touch the same
// element and the barrier join needs no further ordering work.
func (s *Service) evaluate(ctx context.Context, rc *RuleContext) []model.Outcome {
	outcomes := make([]model.Outcome, len(s.rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RuleWorkers)

	for i, rule := range s.rules {
		i, rule := i, rule
		g.Go(func() error {
			outcomes[i] = s.runRule(gctx, rule, rc)
			return nil
		})
	}
	// Workers never return errors; Wait is purely the completion barrier.
	_ = g.Wait()

	return outcomes
}

// runRule executes one check, converting a panic into a distinct error
// outcome so a broken rule can never take down the batch or masquerade as a
// business failure.
func (s *Service) runRule(_ context.Context, rule Rule, rc *RuleContext) (outcome model.Outcome) {
	outcome = model.Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Severity: rule.Severity,
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "validation rule panicked",
				"rule_id", rule.ID, "rule_name", rule.Name, "nhs_number", rc.NHSNumber)
			outcome.Status = model.OutcomeError
			outcome.Severity = model.SeverityError
			outcome.Message = fmt.Sprintf("rule execution failed: %v", r)
		}
	}()

	res := rule.Check(rc)
	if res.Passed {
		outcome.Status = model.OutcomePassed
	} else {
		outcome.Status = model.OutcomeFailed
		outcome.Message = res.Message
	}
	return outcome
}

func (s *Service) buildContext(ctx context.Context, nhsNumber int64) (*RuleContext, error) {
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

	practices, err := s.gpPractices(ctx)
	if err != nil {
		return nil, err
	}

	return &RuleContext{
		NHSNumber:   nhsNumber,
		Demographic: demographic,
		Management:  management,
		GPPractices: practices,
	}, nil
}

// gpPractices returns the reference set, from cache when fresh.
func (s *Service) gpPractices(ctx context.Context) (map[string]struct{}, error) {
	if cached, ok := s.cache.Get(gpPracticesCacheKey); ok {
		return cached.(map[string]struct{}), nil
	}

	rows, err := s.referenceRepo.ListGPPractices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load GP practices: %w", err)
	}
	practices := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		practices[row.Code] = struct{}{}
	}
	s.cache.Set(gpPracticesCacheKey, practices, gocache.DefaultExpiration)
	return practices, nil
}
