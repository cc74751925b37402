// Package recorder holds the attendance marking workflow for one class and
// date: load the roster, default everyone to present, overlay what is
// already stored, let the user edit, and submit the whole class at once.
//
// State is a value. Every transition returns a new State and leaves its
// receiver untouched, so states can be shared across goroutines freely.
package recorder

import (
	"fmt"

	"attendly/internal/model"
)

// DefaultStatus is given to every student before anything is marked.
const DefaultStatus = model.StatusPresent

// Selection identifies the class and date being recorded.
type Selection struct {
	ClassID string
	Date    string
}

// Complete reports whether both halves are chosen.
func (s Selection) Complete() bool { return s.ClassID != "" && s.Date != "" }

// Draft maps student ids to their pending status.
type Draft map[string]model.Status

func (d Draft) clone() Draft {
	out := make(Draft, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// State is one snapshot of the recorder.
type State struct {
	Selection Selection
	// Generation increases on every selection change or reload. Fetches
	// carry the generation they were issued for.
	Generation uint64
	Roster     []model.Student
	Draft      Draft
	// Baseline is what the backend is known to hold for the selection.
	Baseline   Draft
	Loading    bool
	Submitting bool
}

// InitializeDraft marks every student of roster present.
func InitializeDraft(roster []model.Student) Draft {
	d := make(Draft, len(roster))
	for _, st := range roster {
		d[st.ID] = DefaultStatus
	}
	return d
}

// Reconcile overlays stored records on draft. Only records for sel whose
// student is already in draft apply; everything else is ignored, and no
// key is ever removed. draft is not modified.
func Reconcile(draft Draft, existing []model.Record, sel Selection) Draft {
	merged := draft.clone()
	for student, status := range overrides(draft, existing, sel) {
		merged[student] = status
	}
	return merged
}

func overrides(draft Draft, existing []model.Record, sel Selection) Draft {
	out := make(Draft)
	for _, rec := range existing {
		if rec.ClassID != sel.ClassID || rec.Date != sel.Date {
			continue
		}
		if _, ok := draft[rec.StudentID]; !ok {
			continue
		}
		if !rec.Status.Valid() {
			continue
		}
		out[rec.StudentID] = rec.Status
	}
	return out
}

func (s State) reselect(sel Selection) State {
	return State{
		Selection:  sel,
		Generation: s.Generation + 1,
		Loading:    sel.ClassID != "",
		Submitting: s.Submitting,
	}
}

// SelectClass switches class and discards the roster and draft.
func (s State) SelectClass(classID string) State {
	return s.reselect(Selection{ClassID: classID, Date: s.Selection.Date})
}

// SelectDate switches date and discards the draft.
func (s State) SelectDate(date string) State {
	return s.reselect(Selection{ClassID: s.Selection.ClassID, Date: date})
}

// Reload keeps the selection but invalidates fetches already in flight.
func (s State) Reload() State {
	return s.reselect(s.Selection)
}

// Loaded applies a fetch issued at generation gen. A stale fetch leaves the
// state unchanged and reports false.
func (s State) Loaded(gen uint64, roster []model.Student, existing []model.Record) (State, bool) {
	if gen != s.Generation {
		return s, false
	}
	next := s
	next.Roster = append([]model.Student(nil), roster...)
	base := InitializeDraft(next.Roster)
	next.Draft = Reconcile(base, existing, s.Selection)
	next.Baseline = overrides(base, existing, s.Selection)
	next.Loading = false
	return next, true
}

// LoadFailed ends loading for generation gen without touching anything else.
func (s State) LoadFailed(gen uint64) State {
	if gen != s.Generation {
		return s
	}
	next := s
	next.Loading = false
	return next
}

// SetStatus changes one student's pending status.
func (s State) SetStatus(studentID string, status model.Status) (State, error) {
	if !status.Valid() {
		return s, fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}
	if _, ok := s.Draft[studentID]; !ok {
		return s, fmt.Errorf("student %q: %w", studentID, ErrUnknownStudent)
	}
	next := s
	next.Draft = s.Draft.clone()
	next.Draft[studentID] = status
	return next, nil
}

// Marks serialises the draft in roster order, one entry per student.
func (s State) Marks() []model.Mark {
	marks := make([]model.Mark, 0, len(s.Roster))
	for _, st := range s.Roster {
		status, ok := s.Draft[st.ID]
		if !ok {
			status = DefaultStatus
		}
		marks = append(marks, model.Mark{StudentID: st.ID, Status: status})
	}
	return marks
}

// CanSubmit reports whether a submit would be attempted.
func (s State) CanSubmit() bool {
	return s.Selection.Complete() && !s.Loading && !s.Submitting && len(s.Roster) > 0
}

// Submitted records that draft was stored for sel. The baseline only moves
// when sel is still the current selection.
func (s State) Submitted(sel Selection, draft Draft) State {
	next := s
	next.Submitting = false
	if sel == s.Selection {
		next.Baseline = draft.clone()
	}
	return next
}

// Changed lists, in roster order, students whose pending status differs
// from what the backend holds. Students with no stored record count as
// changed.
func Changed(s State) []string {
	var out []string
	for _, st := range s.Roster {
		stored, ok := s.Baseline[st.ID]
		if !ok || stored != s.Draft[st.ID] {
			out = append(out, st.ID)
		}
	}
	return out
}
