package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/foodcourt/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe: a datastore ping, a cache ping and so on.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption configures NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyClock overrides time.Now.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeSet struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository returns a HealthRepository running checks. Names must be unique
// and non-blank, and every check needs a function.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	p := &probeSet{checks: make([]DependencyCheck, 0, len(checks)), now: time.Now}
	names := map[string]bool{}
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health: dependency check without a name")
		case check.Check == nil:
			return nil, fmt.Errorf("health: dependency %s has no check function", check.Name)
		case names[check.Name]:
			return nil, fmt.Errorf("health: dependency %s registered twice", check.Name)
		}
		if check.Timeout <= 0 {
			check.Timeout = defaultProbeTimeout
		}
		names[check.Name] = true
		p.checks = append(p.checks, check)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect runs every probe concurrently. A failing probe shows up in the report, not as an error.
func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.DependencyHealth, len(p.checks))
	var group errgroup.Group
	for i, check := range p.checks {
		group.Go(func() error {
			results[i] = p.run(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	deps := make(map[string]domain.DependencyHealth, len(results))
	for i, check := range p.checks {
		deps[check.Name] = results[i]
	}
	return domain.NewSystemHealthReport(deps, p.now()), nil
}

func (p *probeSet) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	started := p.now()
	err := check.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := p.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = domain.HealthUnavailable, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = domain.HealthUnavailable, "cancelled"
	default:
		result.Status, result.Detail = domain.HealthDegraded, err.Error()
	}
	return result
}
