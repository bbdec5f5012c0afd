package testrun_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/testrun"
)

func TestRun_Advance(t *testing.T) {
	type step struct {
		op     string // select, advance, retreat
		option string
	}

	tests := map[string]struct {
		steps  []step
		assert func(t *testing.T, r *testrun.Run, errs []error)
	}{
		"should sum the weights of the selected options": {
			steps: []step{
				{op: "select", option: "a2"}, {op: "advance"},
				{op: "select", option: "b3"}, {op: "advance"},
				{op: "select", option: "c1"}, {op: "advance"},
			},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				requireNoErrors(t, errs)
				st := r.State()
				assert.True(t, st.Completed)
				assert.EqualValues(t, 2+3+1, st.Score)
				assert.Equal(t, 100, st.Progress())
			},
		},

		"changing an answer should keep only the latest selection": {
			steps: []step{
				{op: "select", option: "a1"}, {op: "select", option: "a3"}, {op: "advance"},
				{op: "select", option: "b1"}, {op: "advance"},
				{op: "retreat"}, {op: "select", option: "b2"}, {op: "advance"},
				{op: "select", option: "c3"}, {op: "select", option: "c2"}, {op: "advance"},
			},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				requireNoErrors(t, errs)
				assert.EqualValues(t, 3+2+2, r.State().Score)
			},
		},

		"retreat at the first question should be a no-op": {
			steps: []step{{op: "retreat"}, {op: "retreat"}},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				requireNoErrors(t, errs)
				assert.Equal(t, 0, r.State().Index)
			},
		},

		"retreat should keep earlier answers": {
			steps: []step{
				{op: "select", option: "a2"}, {op: "advance"}, {op: "retreat"},
			},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				requireNoErrors(t, errs)
				st := r.State()
				assert.Equal(t, 0, st.Index)
				assert.Equal(t, "a2", st.Selected)
			},
		},

		"selecting an option of another question should fail": {
			steps: []step{{op: "select", option: "b1"}},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				require.Len(t, errs, 1)
				assert.ErrorIs(t, errs[0], testrun.ErrUnknownOption)
				assert.Empty(t, r.State().Selected)
			},
		},

		"operations after completion should fail": {
			steps: []step{
				{op: "select", option: "a1"}, {op: "advance"},
				{op: "select", option: "b1"}, {op: "advance"},
				{op: "select", option: "c1"}, {op: "advance"},
				{op: "advance"}, {op: "retreat"}, {op: "select", option: "c2"},
			},
			assert: func(t *testing.T, r *testrun.Run, errs []error) {
				require.Len(t, errs, 3)
				for _, err := range errs {
					assert.ErrorIs(t, err, testrun.ErrCompleted)
				}
				assert.EqualValues(t, 3, r.State().Score)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := testrun.New(makeTest())
			require.NoError(t, err)

			var errs []error
			for _, s := range tt.steps {
				switch s.op {
				case "select":
					err = r.Select(s.option)
				case "advance":
					_, _, err = r.Advance()
				case "retreat":
					err = r.Retreat()
				}
				if err != nil {
					errs = append(errs, err)
				}
			}

			tt.assert(t, r, errs)
		})
	}
}

func TestRun_AdvanceUnanswered(t *testing.T) {
	def := makeTest()
	r, err := testrun.New(def)
	require.NoError(t, err)

	for i, q := range def.Questions {
		require.Equal(t, i, r.State().Index)

		done, _, err := r.Advance()
		assert.ErrorIs(t, err, testrun.ErrUnanswered, "question %d should not advance unanswered", i)
		assert.False(t, done)
		assert.Equal(t, i, r.State().Index, "rejected advance should not transition")

		require.NoError(t, r.Select(q.Options[0].ID))
		done, score, err := r.Advance()
		require.NoError(t, err)
		assert.Equal(t, i == len(def.Questions)-1, done)
		if done {
			assert.EqualValues(t, 3, score)
		}
	}
}

func TestRun_Progress(t *testing.T) {
	r, err := testrun.New(makeTest())
	require.NoError(t, err)

	st := r.State()
	assert.Equal(t, 33, st.Progress())
	assert.Equal(t, 3, st.Total)
	assert.False(t, st.Last())
	assert.Equal(t, "a", st.Question.ID)
}

func TestNew_NoQuestions(t *testing.T) {
	_, err := testrun.New(domain.TestDefinition{ID: "empty"})
	require.Error(t, err)
}

func makeTest() domain.TestDefinition {
	q := func(id string) domain.Question {
		return domain.Question{
			ID: id,
			Options: []domain.Option{
				{ID: id + "1", Weight: 1},
				{ID: id + "2", Weight: 2},
				{ID: id + "3", Weight: 3},
			},
		}
	}

	return domain.TestDefinition{
		ID:          "t1",
		PriceTokens: 300,
		Questions:   []domain.Question{q("a"), q("b"), q("c")},
	}
}

func requireNoErrors(t *testing.T, errs []error) {
	t.Helper()
	require.Empty(t, errs)
}
