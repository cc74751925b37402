package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"attendly/internal/model"
)

var (
	ErrSuperseded     = errors.New("selection changed while loading")
	ErrEmptyRoster    = errors.New("class has no students")
	ErrSubmitInFlight = errors.New("a submit is already in progress")
	ErrNoSelection    = errors.New("select a class and a date first")
	ErrLoading        = errors.New("attendance is still loading")
	ErrUnknownStudent = errors.New("student is not in the roster")
	ErrInvalidStatus  = errors.New("status must be present, absent or late")
)

// Backend is the part of the API the recorder talks to.
type Backend interface {
	ListStudents(ctx context.Context, classID string) ([]model.Student, error)
	GetAttendance(ctx context.Context, classID, date string) ([]model.Record, error)
	SubmitAttendance(ctx context.Context, classID, date string, marks []model.Mark) ([]model.UpsertResult, error)
}

// Recorder drives State against a Backend. Network calls run outside the
// lock; results of a superseded selection are dropped on arrival.
type Recorder struct {
	backend Backend

	mu    sync.Mutex
	state State
}

// New creates a recorder with nothing selected.
func New(b Backend) *Recorder {
	return &Recorder{backend: b}
}

// State returns the current snapshot.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SelectClass switches class and loads its roster and any stored marks.
func (r *Recorder) SelectClass(ctx context.Context, classID string) (State, error) {
	return r.transition(ctx, func(s State) State { return s.SelectClass(classID) })
}

// SelectDate switches date and loads any stored marks.
func (r *Recorder) SelectDate(ctx context.Context, date string) (State, error) {
	if date != "" {
		if _, err := model.ParseDate(date); err != nil {
			return r.State(), err
		}
	}
	return r.transition(ctx, func(s State) State { return s.SelectDate(date) })
}

// Select switches class and date together with a single fetch.
func (r *Recorder) Select(ctx context.Context, sel Selection) (State, error) {
	if sel.Date != "" {
		if _, err := model.ParseDate(sel.Date); err != nil {
			return r.State(), err
		}
	}
	return r.transition(ctx, func(s State) State { return s.reselect(sel) })
}

// Reload refetches the current selection.
func (r *Recorder) Reload(ctx context.Context) (State, error) {
	return r.transition(ctx, State.Reload)
}

func (r *Recorder) transition(ctx context.Context, next func(State) State) (State, error) {
	r.mu.Lock()
	r.state = next(r.state)
	sel, gen := r.state.Selection, r.state.Generation
	r.mu.Unlock()

	if sel.ClassID == "" {
		return r.State(), nil
	}
	roster, existing, err := r.fetch(ctx, sel)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.state.Generation {
		return r.state, ErrSuperseded
	}
	if err != nil {
		r.state = r.state.LoadFailed(gen)
		return r.state, err
	}
	r.state, _ = r.state.Loaded(gen, roster, existing)
	return r.state, nil
}

func (r *Recorder) fetch(ctx context.Context, sel Selection) ([]model.Student, []model.Record, error) {
	roster, err := r.backend.ListStudents(ctx, sel.ClassID)
	if err != nil {
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}
	if sel.Date == "" || len(roster) == 0 {
		return roster, nil, nil
	}
	existing, err := r.backend.GetAttendance(ctx, sel.ClassID, sel.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("load attendance: %w", err)
	}
	return roster, existing, nil
}

// SetStatus edits the draft locally.
func (r *Recorder) SetStatus(studentID string, status model.Status) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.state.SetStatus(studentID, status)
	if err != nil {
		return r.state, err
	}
	r.state = next
	return r.state, nil
}

// Submit sends the whole draft as one bulk upsert. On failure the draft is
// kept so the caller can retry.
func (r *Recorder) Submit(ctx context.Context) ([]model.UpsertResult, error) {
	r.mu.Lock()
	s := r.state
	switch {
	case s.Submitting:
		r.mu.Unlock()
		return nil, ErrSubmitInFlight
	case !s.Selection.Complete():
		r.mu.Unlock()
		return nil, ErrNoSelection
	case s.Loading:
		r.mu.Unlock()
		return nil, ErrLoading
	case len(s.Roster) == 0:
		r.mu.Unlock()
		return nil, ErrEmptyRoster
	}
	sel, draft, marks := s.Selection, s.Draft, s.Marks()
	r.state.Submitting = true
	r.mu.Unlock()

	results, err := r.backend.SubmitAttendance(ctx, sel.ClassID, sel.Date, marks)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state.Submitting = false
		return nil, err
	}
	r.state = r.state.Submitted(sel, draft)
	return results, nil
}
