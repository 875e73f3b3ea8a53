package health

import (
	"context"
	"fmt"
	"time"

	"github.com/blwatch/blwatch/pkg/log"
)

// Result represents the outcome of one self-test.
type Result struct {
	Name      string
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is a single startup self-test.
type Checker interface {
	// Name identifies the check in logs and results.
	Name() string

	// Check performs the self-test and returns the result.
	Check(ctx context.Context) Result
}

// Suite runs self-tests before a run starts. Required checks abort the run
// on failure; advisory checks only warn.
type Suite struct {
	required []Checker
	advisory []Checker
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Require adds checks whose failure aborts the run.
func (s *Suite) Require(checks ...Checker) *Suite {
	s.required = append(s.required, checks...)
	return s
}

// Advise adds checks whose failure is only logged.
func (s *Suite) Advise(checks ...Checker) *Suite {
	s.advisory = append(s.advisory, checks...)
	return s
}

// Run executes every check and returns all results. It fails on the first
// unhealthy required check; advisory failures are logged and tolerated.
func (s *Suite) Run(ctx context.Context) ([]Result, error) {
	logger := log.WithComponent("health")
	var results []Result

	for _, c := range s.required {
		r := c.Check(ctx)
		results = append(results, r)
		if !r.Healthy {
			logger.Error().Str("check", r.Name).Str("message", r.Message).Msg("self-test failed")
			return results, fmt.Errorf("self-test %s failed: %s", r.Name, r.Message)
		}
		logger.Debug().Str("check", r.Name).Dur("took", r.Duration).Msg("self-test passed")
	}

	for _, c := range s.advisory {
		r := c.Check(ctx)
		results = append(results, r)
		if !r.Healthy {
			logger.Warn().Str("check", r.Name).Str("message", r.Message).Msg("advisory self-test failed")
			continue
		}
		logger.Debug().Str("check", r.Name).Dur("took", r.Duration).Msg("self-test passed")
	}

	return results, nil
}

// result is a small helper for building a timed Result.
func result(name string, start time.Time, healthy bool, format string, args ...any) Result {
	return Result{
		Name:      name,
		Healthy:   healthy,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
