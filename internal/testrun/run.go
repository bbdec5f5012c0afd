// Package testrun walks a visitor through the questions of one test.
//
// A run is either at a question (0 <= index < len(questions)) or completed
// with a score. It moves forward only when the current question is answered,
// and the score is the sum of the weights of the latest selected options.
package testrun

import (
	"errors"
	"fmt"

	"github.com/victornm/novatest/internal/domain"
)

var (
	ErrUnanswered    = errors.New("testrun: current question is not answered")
	ErrCompleted     = errors.New("testrun: run is completed")
	ErrUnknownOption = errors.New("testrun: unknown option")
)

type Run struct {
	test      domain.TestDefinition
	index     int
	answers   map[string]domain.Option
	completed bool
	score     int64
}

// New starts a run at the first question with no answers.
func New(test domain.TestDefinition) (*Run, error) {
	if len(test.Questions) == 0 {
		return nil, fmt.Errorf("testrun: test %q has no questions", test.ID)
	}

	return &Run{
		test:    test,
		answers: make(map[string]domain.Option, len(test.Questions)),
	}, nil
}

// State is a snapshot of a run.
type State struct {
	TestID    string
	Index     int
	Total     int
	Question  domain.Question
	Selected  string
	Completed bool
	Score     int64
}

// Progress is the share of the test reached, in percent.
func (s State) Progress() int {
	if s.Completed {
		return 100
	}
	return (s.Index + 1) * 100 / s.Total
}

// Last reports whether the run is at its final question.
func (s State) Last() bool {
	return s.Index == s.Total-1
}

func (r *Run) Test() domain.TestDefinition {
	return r.test
}

func (r *Run) State() State {
	st := State{
		TestID:    r.test.ID,
		Index:     r.index,
		Total:     len(r.test.Questions),
		Question:  r.test.Questions[r.index],
		Completed: r.completed,
		Score:     r.score,
	}
	if o, ok := r.answers[st.Question.ID]; ok {
		st.Selected = o.ID
	}
	return st
}

// Select records the answer of the current question, replacing any earlier one.
func (r *Run) Select(optionID string) error {
	if r.completed {
		return ErrCompleted
	}

	q := r.test.Questions[r.index]
	o, ok := q.Option(optionID)
	if !ok {
		return fmt.Errorf("%w: question=%s option=%s", ErrUnknownOption, q.ID, optionID)
	}

	r.answers[q.ID] = o
	return nil
}

// Advance moves to the next question, or completes the run at the last one.
// It returns true with the final score when the run completes.
func (r *Run) Advance() (bool, int64, error) {
	if r.completed {
		return false, 0, ErrCompleted
	}

	if _, ok := r.answers[r.test.Questions[r.index].ID]; !ok {
		return false, 0, ErrUnanswered
	}

	if r.index < len(r.test.Questions)-1 {
		r.index++
		return false, 0, nil
	}

	var score int64
	for _, o := range r.answers {
		score += o.Weight
	}

	r.completed = true
	r.score = score
	return true, score, nil
}

// Retreat moves back one question. At the first question it does nothing.
func (r *Run) Retreat() error {
	if r.completed {
		return ErrCompleted
	}

	if r.index > 0 {
		r.index--
	}
	return nil
}
