package recorder

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/client"
	"attendly/internal/logging"
	"attendly/internal/model"
	"attendly/internal/server"
)

type fakeBackend struct {
	mu        sync.Mutex
	rosters   map[string][]model.Student
	records   []model.Record
	gates     map[string]chan struct{}
	submitted [][]model.Mark
	submitErr error
	release   chan struct{}
}

func newFake() *fakeBackend {
	return &fakeBackend{
		rosters: map[string][]model.Student{},
		gates:   map[string]chan struct{}{},
	}
}

func (f *fakeBackend) ListStudents(ctx context.Context, classID string) ([]model.Student, error) {
	f.mu.Lock()
	gate := f.gates[classID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Student(nil), f.rosters[classID]...), nil
}

func (f *fakeBackend) GetAttendance(_ context.Context, classID, date string) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Record
	for _, r := range f.records {
		if r.ClassID == classID && r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBackend) SubmitAttendance(_ context.Context, classID, date string, marks []model.Mark) ([]model.UpsertResult, error) {
	f.mu.Lock()
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, append([]model.Mark(nil), marks...))
	results := make([]model.UpsertResult, 0, len(marks))
	for _, m := range marks {
		results = append(results, model.UpsertResult{StudentID: m.StudentID, Action: "created"})
	}
	return results, nil
}

func TestRapidReselectKeepsLatest(t *testing.T) {
	fake := newFake()
	fake.rosters["A"] = []model.Student{{ID: "a1", ClassID: "A"}}
	fake.rosters["B"] = []model.Student{{ID: "b1", ClassID: "B"}, {ID: "b2", ClassID: "B"}}
	gateA := make(chan struct{})
	fake.gates["A"] = gateA

	rec := New(fake)
	ctx := context.Background()
	_, err := rec.SelectDate(ctx, "2024-03-01")
	require.NoError(t, err)

	errA := make(chan error, 1)
	go func() {
		_, err := rec.SelectClass(ctx, "A")
		errA <- err
	}()
	require.Eventually(t, func() bool { return rec.State().Selection.ClassID == "A" }, time.Second, time.Millisecond)

	stateB, err := rec.SelectClass(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, stateB.Roster, 2)

	close(gateA) // A's roster arrives after B's
	assert.ErrorIs(t, <-errA, ErrSuperseded)

	final := rec.State()
	assert.Equal(t, "B", final.Selection.ClassID)
	assert.Equal(t, Draft{"b1": model.StatusPresent, "b2": model.StatusPresent}, final.Draft)
}

func TestSubmitThreeStudents(t *testing.T) {
	fake := newFake()
	fake.rosters["c1"] = roster(3)
	rec := New(fake)
	ctx := context.Background()

	_, err := rec.Select(ctx, Selection{ClassID: "c1", Date: "2024-03-01"})
	require.NoError(t, err)
	_, err = rec.SetStatus("s2", model.StatusAbsent)
	require.NoError(t, err)

	results, err := rec.Submit(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	require.Len(t, fake.submitted, 1, "exactly one bulk request")
	assert.Equal(t, []model.Mark{
		{StudentID: "s1", Status: model.StatusPresent},
		{StudentID: "s2", Status: model.StatusAbsent},
		{StudentID: "s3", Status: model.StatusPresent},
	}, fake.submitted[0])
	assert.Empty(t, Changed(rec.State()))
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	fake := newFake()
	fake.rosters["c1"] = roster(2)
	fake.submitErr = errors.New("api error 500: server error")
	rec := New(fake)
	ctx := context.Background()

	_, err := rec.Select(ctx, Selection{ClassID: "c1", Date: "2024-03-01"})
	require.NoError(t, err)
	before, err := rec.SetStatus("s1", model.StatusLate)
	require.NoError(t, err)

	_, err = rec.Submit(ctx)
	require.Error(t, err)
	after := rec.State()
	assert.Equal(t, before.Draft, after.Draft)
	assert.False(t, after.Submitting)
	assert.Equal(t, []string{"s1", "s2"}, Changed(after))

	fake.mu.Lock()
	fake.submitErr = nil
	fake.mu.Unlock()
	_, err = rec.Submit(ctx)
	require.NoError(t, err, "retry succeeds")
}

func TestSubmitGuards(t *testing.T) {
	fake := newFake()
	fake.rosters["c1"] = roster(1)
	rec := New(fake)
	ctx := context.Background()

	_, err := rec.Submit(ctx)
	assert.ErrorIs(t, err, ErrNoSelection)

	_, err = rec.Select(ctx, Selection{ClassID: "empty", Date: "2024-03-01"})
	require.NoError(t, err)
	assert.Empty(t, rec.State().Draft)
	_, err = rec.Submit(ctx)
	assert.ErrorIs(t, err, ErrEmptyRoster)

	_, err = rec.Select(ctx, Selection{ClassID: "c1", Date: "2024-03-01"})
	require.NoError(t, err)
	release := make(chan struct{})
	fake.mu.Lock()
	fake.release = release
	fake.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := rec.Submit(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return rec.State().Submitting }, time.Second, time.Millisecond)
	_, err = rec.Submit(ctx)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, rec.State().Submitting)
	assert.Len(t, fake.submitted, 1)

	_, err = rec.SelectDate(ctx, "March 1st")
	assert.Error(t, err)
	assert.Equal(t, "2024-03-01", rec.State().Selection.Date)
}

func TestRoundTripAgainstServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app := server.New(server.Options{
		Service: attendance.NewService(attendance.NewMemoryRepository(), attendance.WithBcryptCost(4)),
		Issuer:  auth.NewIssuer("attendly-test", "test-secret", time.Hour),
		Logger:  logging.Nop(),
	})
	ts := httptest.NewServer(app)
	defer ts.Close()

	ctx := context.Background()
	api := client.New(ts.URL + "/api")
	_, err := api.Register(ctx, client.Registration{Name: "Tess", Email: "tess@school.test", Password: "password1"})
	require.NoError(t, err)
	_, err = api.Login(ctx, client.Credentials{Email: "tess@school.test", Password: "password1"})
	require.NoError(t, err)
	class, err := api.CreateClass(ctx, client.ClassInput{Name: "Grade 5", Section: "A"})
	require.NoError(t, err)
	var ids []string
	for _, name := range []string{"Ann", "Bob", "Cat"} {
		st, err := api.CreateStudent(ctx, client.StudentInput{Name: name, RollNumber: name, ClassID: class.ID})
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}

	rec := New(api)
	s, err := rec.Select(ctx, Selection{ClassID: class.ID, Date: "2024-03-01"})
	require.NoError(t, err)
	require.Len(t, s.Roster, 3)
	_, err = rec.SetStatus(ids[1], model.StatusAbsent)
	require.NoError(t, err)
	submitted, err := rec.SetStatus(ids[2], model.StatusLate)
	require.NoError(t, err)

	_, err = rec.Submit(ctx)
	require.NoError(t, err)

	reloaded, err := rec.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, submitted.Draft, reloaded.Draft, "stored marks come back exactly")
	assert.Empty(t, Changed(reloaded))

	other, err := rec.SelectDate(ctx, "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, InitializeDraft(other.Roster), other.Draft, "a fresh date starts all present")
}
