package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"attendly/internal/auth"
	"attendly/internal/metrics"
	"attendly/internal/model"
	"attendly/internal/queue"
	"attendly/internal/report"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("not authorized")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicateRoll      = errors.New("roll number already exists in this class")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError rejects input before it reaches the repository.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var validate = validator.New()

// ReportCache stores built reports keyed by a per-class generation that
// Invalidate bumps. Implementations must tolerate misses.
type ReportCache interface {
	Generation(ctx context.Context, classID string) (int64, error)
	Get(ctx context.Context, classID string, gen int64, start, end string) (model.Report, bool, error)
	Set(ctx context.Context, gen int64, r model.Report) error
	Invalidate(ctx context.Context, classID string) error
}

// Publisher emits attendance events.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) isAdmin() bool { return a.Role == model.RoleAdmin }

// NewUser is a registration request.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// ClassInput holds the editable fields of a class.
type ClassInput struct {
	Name    string
	Section string
	Subject *string
}

// StudentInput holds the editable fields of a student.
type StudentInput struct {
	Name       string
	RollNumber string
	ClassID    string
	Email      *string
	Phone      *string
}

// Service coordinates rosters, attendance marking and reporting.
type Service struct {
	repo       Repository
	cache      ReportCache
	events     Publisher
	bcryptCost int
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables report caching.
func WithCache(c ReportCache) Option { return func(s *Service) { s.cache = c } }

// WithPublisher enables attendance events.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.bcryptCost = cost } }

// NewService creates a service backed by a repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func clean(s string) string { return strings.TrimSpace(s) }

func cleanOpt(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, nu NewUser) (model.User, error) {
	u := model.User{
		Name:  clean(nu.Name),
		Email: strings.ToLower(clean(nu.Email)),
		Role:  strings.ToLower(clean(nu.Role)),
	}
	if u.Role == "" {
		u.Role = model.RoleTeacher
	}
	switch {
	case u.Name == "":
		return model.User{}, invalid("name", "required")
	case u.Email == "":
		return model.User{}, invalid("email", "required")
	case len(nu.Password) < 6:
		return model.User{}, invalid("password", "must be at least 6 characters")
	case u.Role != model.RoleTeacher && u.Role != model.RoleAdmin:
		return model.User{}, invalid("role", "must be teacher or admin")
	}
	if err := validate.Var(u.Email, "required,email"); err != nil {
		return model.User{}, invalid("email", "not a valid address")
	}
	hash, err := auth.HashPassword(nu.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	return s.repo.CreateUser(ctx, u, hash)
}

// Login checks credentials and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (model.User, error) {
	u, hash, err := s.repo.GetUserByEmail(ctx, strings.ToLower(clean(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, err
	}
	if !auth.CheckPassword(hash, password) {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// User returns an account by id.
func (s *Service) User(ctx context.Context, id string) (model.User, error) {
	return s.repo.GetUser(ctx, id)
}

func validateClass(in ClassInput) (ClassInput, error) {
	in.Name, in.Section, in.Subject = clean(in.Name), clean(in.Section), cleanOpt(in.Subject)
	if in.Name == "" {
		return in, invalid("name", "required")
	}
	if in.Section == "" {
		return in, invalid("section", "required")
	}
	return in, nil
}

// CreateClass creates a class owned by the actor.
func (s *Service) CreateClass(ctx context.Context, actor Actor, in ClassInput) (model.Class, error) {
	in, err := validateClass(in)
	if err != nil {
		return model.Class{}, err
	}
	return s.repo.CreateClass(ctx, model.Class{
		Name:      in.Name,
		Section:   in.Section,
		Subject:   in.Subject,
		TeacherID: actor.ID,
	})
}

// ListClasses returns the actor's classes, or all classes for admins.
func (s *Service) ListClasses(ctx context.Context, actor Actor) ([]model.Class, error) {
	if actor.isAdmin() {
		return s.repo.ListClasses(ctx, "")
	}
	return s.repo.ListClasses(ctx, actor.ID)
}

// Class returns a class by id.
func (s *Service) Class(ctx context.Context, id string) (model.Class, error) {
	return s.repo.GetClass(ctx, id)
}

func (s *Service) ownedClass(ctx context.Context, actor Actor, id string) (model.Class, error) {
	c, err := s.repo.GetClass(ctx, id)
	if err != nil {
		return model.Class{}, err
	}
	if !actor.isAdmin() && c.TeacherID != actor.ID {
		return model.Class{}, ErrForbidden
	}
	return c, nil
}

// UpdateClass edits a class the actor owns.
func (s *Service) UpdateClass(ctx context.Context, actor Actor, id string, in ClassInput) (model.Class, error) {
	in, err := validateClass(in)
	if err != nil {
		return model.Class{}, err
	}
	c, err := s.ownedClass(ctx, actor, id)
	if err != nil {
		return model.Class{}, err
	}
	c.Name, c.Section, c.Subject = in.Name, in.Section, in.Subject
	return s.repo.UpdateClass(ctx, c)
}

// DeleteClass removes a class the actor owns, with its roster and attendance.
func (s *Service) DeleteClass(ctx context.Context, actor Actor, id string) error {
	if _, err := s.ownedClass(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.DeleteClass(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) validateStudent(ctx context.Context, actor Actor, in StudentInput) (StudentInput, error) {
	in.Name, in.RollNumber, in.ClassID = clean(in.Name), clean(in.RollNumber), clean(in.ClassID)
	in.Email, in.Phone = cleanOpt(in.Email), cleanOpt(in.Phone)
	switch {
	case in.Name == "":
		return in, invalid("name", "required")
	case in.RollNumber == "":
		return in, invalid("roll_number", "required")
	case in.ClassID == "":
		return in, invalid("class_id", "required")
	}
	if in.Email != nil {
		if err := validate.Var(*in.Email, "required,email"); err != nil {
			return in, invalid("email", "not a valid address")
		}
	}
	if _, err := s.ownedClass(ctx, actor, in.ClassID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return in, invalid("class_id", "class does not exist")
		}
		return in, err
	}
	return in, nil
}

// CreateStudent adds a student to a class the actor owns.
func (s *Service) CreateStudent(ctx context.Context, actor Actor, in StudentInput) (model.Student, error) {
	in, err := s.validateStudent(ctx, actor, in)
	if err != nil {
		return model.Student{}, err
	}
	st, err := s.repo.CreateStudent(ctx, model.Student{
		Name:       in.Name,
		RollNumber: in.RollNumber,
		ClassID:    in.ClassID,
		Email:      in.Email,
		Phone:      in.Phone,
	})
	if err != nil {
		return model.Student{}, err
	}
	s.invalidate(ctx, st.ClassID)
	return st, nil
}

// ListStudents returns the roster of a class, or every student when classID is empty.
func (s *Service) ListStudents(ctx context.Context, classID string) ([]model.Student, error) {
	return s.repo.ListStudents(ctx, clean(classID))
}

// Student returns a student by id.
func (s *Service) Student(ctx context.Context, id string) (model.Student, error) {
	return s.repo.GetStudent(ctx, id)
}

// UpdateStudent edits a student, possibly moving them to another class. The
// actor must own both the current and the target class.
func (s *Service) UpdateStudent(ctx context.Context, actor Actor, id string, in StudentInput) (model.Student, error) {
	in, err := s.validateStudent(ctx, actor, in)
	if err != nil {
		return model.Student{}, err
	}
	before, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return model.Student{}, err
	}
	if _, err := s.ownedClass(ctx, actor, before.ClassID); err != nil {
		return model.Student{}, err
	}
	st, err := s.repo.UpdateStudent(ctx, model.Student{
		ID:         id,
		Name:       in.Name,
		RollNumber: in.RollNumber,
		ClassID:    in.ClassID,
		Email:      in.Email,
		Phone:      in.Phone,
	})
	if err != nil {
		return model.Student{}, err
	}
	s.invalidate(ctx, before.ClassID)
	if before.ClassID != st.ClassID {
		s.invalidate(ctx, st.ClassID)
	}
	return st, nil
}

// DeleteStudent removes a student of a class the actor owns, with their
// attendance.
func (s *Service) DeleteStudent(ctx context.Context, actor Actor, id string) error {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.ownedClass(ctx, actor, st.ClassID); err != nil {
		return err
	}
	if err := s.repo.DeleteStudent(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, st.ClassID)
	return nil
}

// MarkAttendance upserts the marks of one class on one date as a single
// batch: either every mark is written or none is.
func (s *Service) MarkAttendance(ctx context.Context, actor Actor, classID, date string, marks []model.Mark) ([]model.UpsertResult, error) {
	classID = clean(classID)
	if classID == "" {
		return nil, invalid("class_id", "required")
	}
	if _, err := model.ParseDate(date); err != nil {
		return nil, invalid("date", "%v", err)
	}
	if len(marks) == 0 {
		return nil, invalid("attendance_records", "must not be empty")
	}
	if _, err := s.ownedClass(ctx, actor, classID); err != nil {
		return nil, err
	}
	roster, err := s.repo.ListStudents(ctx, classID)
	if err != nil {
		return nil, err
	}
	enrolled := make(map[string]struct{}, len(roster))
	for _, st := range roster {
		enrolled[st.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(marks))
	batch := make([]model.Mark, len(marks))
	for i, m := range marks {
		if !m.Status.Valid() {
			return nil, invalid(fmt.Sprintf("attendance_records[%d].status", i), "must be present, absent or late")
		}
		if _, ok := enrolled[m.StudentID]; !ok {
			return nil, invalid(fmt.Sprintf("attendance_records[%d].student_id", i), "student %q is not in this class", m.StudentID)
		}
		if _, dup := seen[m.StudentID]; dup {
			return nil, invalid(fmt.Sprintf("attendance_records[%d].student_id", i), "student %q listed twice", m.StudentID)
		}
		seen[m.StudentID] = struct{}{}
		m.Remarks = cleanOpt(m.Remarks)
		batch[i] = m
	}

	results, err := s.repo.UpsertAttendance(ctx, classID, date, actor.ID, batch)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		metrics.RecordsUpserted.WithLabelValues(r.Action).Inc()
	}
	s.invalidate(ctx, classID)
	s.publish(ctx, queue.AttendanceMarked{ClassID: classID, Date: date, Count: len(results)})
	return results, nil
}

// MarkOne upserts a single student's attendance and returns the stored record.
func (s *Service) MarkOne(ctx context.Context, actor Actor, classID, date string, m model.Mark) (model.Record, error) {
	if _, err := s.MarkAttendance(ctx, actor, classID, date, []model.Mark{m}); err != nil {
		return model.Record{}, err
	}
	recs, err := s.repo.ListAttendance(ctx, Filter{ClassID: clean(classID), StudentID: m.StudentID, Date: date})
	if err != nil {
		return model.Record{}, err
	}
	if len(recs) == 0 {
		return model.Record{}, fmt.Errorf("attendance %w", ErrNotFound)
	}
	return recs[0], nil
}

// ListAttendance returns stored records matching f.
func (s *Service) ListAttendance(ctx context.Context, f Filter) ([]model.Record, error) {
	if f.Date != "" {
		if _, err := model.ParseDate(f.Date); err != nil {
			return nil, invalid("date", "%v", err)
		}
	} else if f.StartDate != "" || f.EndDate != "" {
		if err := report.ValidateRange(f.StartDate, f.EndDate); err != nil {
			return nil, rangeInvalid(err)
		}
	}
	return s.repo.ListAttendance(ctx, f)
}

func rangeInvalid(err error) error {
	var rerr *report.RangeError
	if errors.As(err, &rerr) {
		return &ValidationError{Field: rerr.Field, Reason: rerr.Reason}
	}
	return &ValidationError{Reason: err.Error()}
}

// Report builds the per-student summary of a class over [start, end].
func (s *Service) Report(ctx context.Context, classID, start, end string) (model.Report, error) {
	return s.report(ctx, classID, start, end, "miss")
}

func (s *Service) report(ctx context.Context, classID, start, end, outcome string) (model.Report, error) {
	classID = clean(classID)
	if classID == "" {
		return model.Report{}, invalid("class_id", "required")
	}
	if err := report.ValidateRange(start, end); err != nil {
		return model.Report{}, rangeInvalid(err)
	}
	if _, err := s.repo.GetClass(ctx, classID); err != nil {
		return model.Report{}, err
	}
	// read the generation before the data: a write racing this build leaves
	// the result under a generation nobody reads
	cache := s.cache
	var gen int64
	if cache != nil {
		var err error
		if gen, err = cache.Generation(ctx, classID); err != nil {
			s.log.Warn().Err(err).Str("class_id", classID).Msg("report cache read failed")
			cache = nil
		}
	}
	if cache != nil && outcome == "miss" {
		cached, ok, err := cache.Get(ctx, classID, gen, start, end)
		if err != nil {
			s.log.Warn().Err(err).Str("class_id", classID).Msg("report cache read failed")
		} else if ok {
			metrics.Reports.WithLabelValues("hit").Inc()
			return cached, nil
		}
	}

	roster, err := s.repo.ListStudents(ctx, classID)
	if err != nil {
		return model.Report{}, err
	}
	records, err := s.repo.ListAttendance(ctx, Filter{ClassID: classID, StartDate: start, EndDate: end})
	if err != nil {
		return model.Report{}, err
	}
	rep := model.Report{
		ClassID:   classID,
		StartDate: start,
		EndDate:   end,
		Rows:      report.Build(roster, records),
	}
	metrics.Reports.WithLabelValues(outcome).Inc()
	if cache != nil {
		if err := cache.Set(ctx, gen, rep); err != nil {
			s.log.Warn().Err(err).Str("class_id", classID).Msg("report cache write failed")
		}
	}
	return rep, nil
}

// WarmReport rebuilds and caches a report regardless of what is cached.
func (s *Service) WarmReport(ctx context.Context, classID, start, end string) (model.Report, error) {
	return s.report(ctx, classID, start, end, "warm")
}

// Dashboard summarises the actor's classes and today's activity.
func (s *Service) Dashboard(ctx context.Context, actor Actor) (model.DashboardStats, error) {
	teacherID := actor.ID
	if actor.isAdmin() {
		teacherID = ""
	}
	var (
		stats model.DashboardStats
		err   error
	)
	if stats.TotalClasses, err = s.repo.CountClasses(ctx, teacherID); err != nil {
		return stats, err
	}
	if stats.TotalStudents, err = s.repo.CountStudents(ctx); err != nil {
		return stats, err
	}
	if stats.TodayAttendance, err = s.repo.CountAttendanceOn(ctx, model.Today()); err != nil {
		return stats, err
	}
	if stats.RecentAttendance, err = s.repo.RecentAttendance(ctx, 10); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Service) invalidate(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, classID); err != nil {
		s.log.Warn().Err(err).Str("class_id", classID).Msg("report cache invalidation failed")
	}
}

func (s *Service) publish(ctx context.Context, evt queue.AttendanceMarked) {
	if s.events == nil {
		return
	}
	msg, err := queue.NewAttendanceMarked(evt)
	if err == nil {
		err = s.events.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("class_id", evt.ClassID).Msg("attendance event publish failed")
	}
}
