// Package quiz keeps the active test run of every visitor and hands the
// completed ones over to the session store.
package quiz

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/purchase"
	"github.com/victornm/novatest/internal/session"
	"github.com/victornm/novatest/internal/testrun"
)

type Config struct {
	Catalog  *catalog.Catalog
	Purchase *purchase.Service
}

// Service holds at most one active run per visitor. Starting a new test
// replaces the previous run without refund.
type Service struct {
	catalog  *catalog.Catalog
	purchase *purchase.Service

	mu   sync.Mutex
	runs map[string]*testrun.Run
}

func NewService(c Config) *Service {
	return &Service{
		catalog:  c.Catalog,
		purchase: c.Purchase,
		runs:     make(map[string]*testrun.Run),
	}
}

// Step is the outcome of an advance. Route is set once the run completed.
type Step struct {
	State     testrun.State
	Completed bool
	Score     int64
	Route     string
}

// ResultRoute is where a completed run sends the visitor.
func ResultRoute(testID string, score int64) string {
	return fmt.Sprintf("/results/%s/%d", testID, score)
}

// Start charges the test price and opens a run at the first question.
func (s *Service) Start(ctx context.Context, store *session.Store, testID string) (testrun.State, int64, error) {
	t, ok := s.catalog.Test(testID)
	if !ok {
		return testrun.State{}, 0, errors.New(errors.CodeNotFound, errors.WithMessagef("test not found: %q", testID))
	}

	run, err := testrun.New(t)
	if err != nil {
		return testrun.State{}, 0, errors.Internal(err)
	}

	balance, err := s.purchase.StartTest(ctx, store, t)
	if err != nil {
		return testrun.State{}, balance, err
	}

	s.mu.Lock()
	s.runs[store.VisitorID()] = run
	s.mu.Unlock()

	return run.State(), balance, nil
}

// Current returns the state of the active run.
func (s *Service) Current(visitorID string) (testrun.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[visitorID]
	if !ok {
		return testrun.State{}, false
	}
	return run.State(), true
}

func (s *Service) Select(visitorID, optionID string) (testrun.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.active(visitorID)
	if err != nil {
		return testrun.State{}, err
	}

	if err := run.Select(optionID); err != nil {
		return run.State(), convert(err)
	}
	return run.State(), nil
}

// Advance moves the active run forward. When it completes, the test is
// marked completed, the run is discarded and the result route returned.
func (s *Service) Advance(ctx context.Context, store *session.Store) (Step, error) {
	s.mu.Lock()
	run, err := s.active(store.VisitorID())
	if err != nil {
		s.mu.Unlock()
		return Step{}, err
	}

	completed, score, err := run.Advance()
	st := run.State()
	if completed {
		delete(s.runs, store.VisitorID())
	}
	s.mu.Unlock()

	if err != nil {
		return Step{State: st}, convert(err)
	}
	if !completed {
		return Step{State: st}, nil
	}

	store.CompleteTest(ctx, st.TestID)

	slog.InfoContext(ctx, "quiz: test completed",
		"visitor", store.VisitorID(),
		"test", st.TestID,
		"score", score,
	)

	return Step{
		State:     st,
		Completed: true,
		Score:     score,
		Route:     ResultRoute(st.TestID, score),
	}, nil
}

func (s *Service) Retreat(visitorID string) (testrun.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.active(visitorID)
	if err != nil {
		return testrun.State{}, err
	}

	if err := run.Retreat(); err != nil {
		return run.State(), convert(err)
	}
	return run.State(), nil
}

// Abandon drops the active run. The price is not refunded.
func (s *Service) Abandon(visitorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.runs[visitorID]
	delete(s.runs, visitorID)
	return ok
}

// active returns the run of a visitor. Callers hold s.mu.
func (s *Service) active(visitorID string) (*testrun.Run, error) {
	run, ok := s.runs[visitorID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no active test"))
	}
	return run, nil
}

func convert(err error) error {
	switch {
	case stderrors.Is(err, testrun.ErrUnanswered):
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("select an option first"), errors.WithCause(err))
	case stderrors.Is(err, testrun.ErrUnknownOption):
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown option"), errors.WithCause(err))
	case stderrors.Is(err, testrun.ErrCompleted):
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("test already completed"), errors.WithCause(err))
	default:
		return errors.Internal(err)
	}
}
