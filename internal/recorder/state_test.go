package recorder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/model"
)

func roster(n int) []model.Student {
	out := make([]model.Student, n)
	for i := range out {
		out[i] = model.Student{ID: fmt.Sprintf("s%d", i+1), Name: fmt.Sprintf("Student %d", i+1), RollNumber: fmt.Sprint(i + 1), ClassID: "c1"}
	}
	return out
}

func record(student, class, date string, status model.Status) model.Record {
	return model.Record{StudentID: student, ClassID: class, Date: date, Status: status}
}

func TestInitializeDraft(t *testing.T) {
	for _, n := range []int{0, 1, 3, 40} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			d := InitializeDraft(roster(n))
			require.Len(t, d, n)
			for _, st := range d {
				assert.Equal(t, model.StatusPresent, st)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	sel := Selection{ClassID: "c1", Date: "2024-03-01"}
	draft := InitializeDraft(roster(3))
	existing := []model.Record{
		record("s2", "c1", "2024-03-01", model.StatusAbsent),
		record("s3", "c1", "2024-03-02", model.StatusLate),   // other date
		record("s1", "c2", "2024-03-01", model.StatusAbsent), // other class
		record("gone", "c1", "2024-03-01", model.StatusLate), // deleted student
	}

	once := Reconcile(draft, existing, sel)
	assert.Equal(t, Draft{"s1": model.StatusPresent, "s2": model.StatusAbsent, "s3": model.StatusPresent}, once)
	assert.Equal(t, model.StatusPresent, draft["s2"], "input draft is not modified")

	twice := Reconcile(once, existing, sel)
	assert.Equal(t, once, twice, "idempotent")

	for id := range draft {
		assert.Contains(t, Reconcile(draft, nil, sel), id, "never removes a key")
	}
	assert.Equal(t, draft, Reconcile(draft, nil, sel))
}

func TestTransitionsDoNotMutate(t *testing.T) {
	s0 := State{}.SelectClass("c1").SelectDate("2024-03-01")
	s1, ok := s0.Loaded(s0.Generation, roster(2), []model.Record{record("s1", "c1", "2024-03-01", model.StatusLate)})
	require.True(t, ok)
	assert.Empty(t, s0.Draft)
	assert.True(t, s0.Loading)
	assert.False(t, s1.Loading)

	s2, err := s1.SetStatus("s2", model.StatusAbsent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPresent, s1.Draft["s2"])
	assert.Equal(t, model.StatusAbsent, s2.Draft["s2"])

	_, err = s2.SetStatus("nobody", model.StatusAbsent)
	assert.ErrorIs(t, err, ErrUnknownStudent)
	_, err = s2.SetStatus("s1", "sick")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	s3 := s2.Submitted(s2.Selection, s2.Draft)
	s4, _ := s3.SetStatus("s1", model.StatusPresent)
	assert.Equal(t, model.StatusLate, s3.Baseline["s1"], "baseline is a copy of the draft")
	assert.Equal(t, []string{"s1"}, Changed(s4))
}

func TestSelectionBumpsGeneration(t *testing.T) {
	s := State{}
	a := s.SelectClass("A")
	b := a.SelectClass("B")
	assert.Less(t, a.Generation, b.Generation)

	loadedA, ok := b.Loaded(a.Generation, roster(1), nil)
	assert.False(t, ok, "stale fetch is discarded")
	assert.Equal(t, b, loadedA)

	r := b.Reload()
	assert.Equal(t, b.Selection, r.Selection)
	assert.Greater(t, r.Generation, b.Generation)
	assert.Equal(t, b, b.LoadFailed(a.Generation))
}

func TestMarksAndChanged(t *testing.T) {
	sel := Selection{ClassID: "c1", Date: "2024-03-01"}
	s := State{}.SelectClass(sel.ClassID).SelectDate(sel.Date)
	s, _ = s.Loaded(s.Generation, roster(3), []model.Record{
		record("s1", "c1", "2024-03-01", model.StatusPresent),
		record("s3", "c1", "2024-03-01", model.StatusAbsent),
	})
	assert.Equal(t, []string{"s2"}, Changed(s), "s2 has no stored record")

	s, _ = s.SetStatus("s3", model.StatusPresent)
	assert.Equal(t, []string{"s2", "s3"}, Changed(s))

	assert.Equal(t, []model.Mark{
		{StudentID: "s1", Status: model.StatusPresent},
		{StudentID: "s2", Status: model.StatusPresent},
		{StudentID: "s3", Status: model.StatusPresent},
	}, s.Marks())

	s = s.Submitted(sel, s.Draft)
	assert.Empty(t, Changed(s))

	// a submit that finishes after the user moved on leaves the new baseline alone
	moved := s.SelectDate("2024-03-02")
	assert.Empty(t, moved.Submitted(sel, s.Draft).Baseline)
}

func TestCanSubmit(t *testing.T) {
	s := State{}.SelectClass("c1")
	assert.False(t, s.CanSubmit(), "no date")
	s = s.SelectDate("2024-03-01")
	assert.False(t, s.CanSubmit(), "loading")

	empty, _ := s.Loaded(s.Generation, nil, nil)
	assert.False(t, empty.CanSubmit(), "no students")
	assert.Empty(t, empty.Draft)

	full, _ := s.Loaded(s.Generation, roster(1), nil)
	assert.True(t, full.CanSubmit())
}
