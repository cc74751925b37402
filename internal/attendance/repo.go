package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"attendly/internal/model"
)

// Filter narrows attendance listings. Empty fields are ignored; Date wins
// over StartDate/EndDate.
type Filter struct {
	ClassID   string
	StudentID string
	Date      string
	StartDate string
	EndDate   string
}

// Repository is the persistence contract of the service.
type Repository interface {
	CreateUser(ctx context.Context, u model.User, passwordHash string) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	// GetUserByEmail also returns the stored password hash.
	GetUserByEmail(ctx context.Context, email string) (model.User, string, error)

	CreateClass(ctx context.Context, c model.Class) (model.Class, error)
	GetClass(ctx context.Context, id string) (model.Class, error)
	// ListClasses returns the classes of teacherID, or every class when it is empty.
	ListClasses(ctx context.Context, teacherID string) ([]model.Class, error)
	UpdateClass(ctx context.Context, c model.Class) (model.Class, error)
	// DeleteClass removes the class with its students and attendance.
	DeleteClass(ctx context.Context, id string) error

	CreateStudent(ctx context.Context, s model.Student) (model.Student, error)
	GetStudent(ctx context.Context, id string) (model.Student, error)
	// ListStudents returns the roster of classID ordered by roll number, or every student when it is empty.
	ListStudents(ctx context.Context, classID string) ([]model.Student, error)
	UpdateStudent(ctx context.Context, s model.Student) (model.Student, error)
	DeleteStudent(ctx context.Context, id string) error

	// UpsertAttendance writes every mark for (classID, date) or none of them.
	UpsertAttendance(ctx context.Context, classID, date, markedBy string, marks []model.Mark) ([]model.UpsertResult, error)
	ListAttendance(ctx context.Context, f Filter) ([]model.Record, error)
	CountClasses(ctx context.Context, teacherID string) (int, error)
	CountStudents(ctx context.Context) (int, error)
	CountAttendanceOn(ctx context.Context, date string) (int, error)
	RecentAttendance(ctx context.Context, limit int) ([]model.Record, error)
}

// PostgresRepository persists attendance data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

func isUnique(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u model.User, passwordHash string) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.Email, u.Name, u.Role, passwordHash)
	if err := row.Scan(&u.CreatedAt); err != nil {
		if isUnique(err, "users_email_key") {
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		return model.User{}, notFound(err, "user")
	}
	return u, nil
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (model.User, string, error) {
	var (
		u    model.User
		hash string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, created_at, password_hash FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt, &hash)
	if err != nil {
		return model.User{}, "", notFound(err, "user")
	}
	return u, hash, nil
}

const classColumns = `id, name, section, subject, teacher_id, created_at`

func scanClass(s interface{ Scan(...any) error }) (model.Class, error) {
	var c model.Class
	err := s.Scan(&c.ID, &c.Name, &c.Section, &c.Subject, &c.TeacherID, &c.CreatedAt)
	return c, err
}

func (r *PostgresRepository) CreateClass(ctx context.Context, c model.Class) (model.Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO classes (id, name, section, subject, teacher_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.Name, c.Section, c.Subject, c.TeacherID)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return model.Class{}, err
	}
	return c, nil
}

func (r *PostgresRepository) GetClass(ctx context.Context, id string) (model.Class, error) {
	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if err != nil {
		return model.Class{}, notFound(err, "class")
	}
	return c, nil
}

func (r *PostgresRepository) ListClasses(ctx context.Context, teacherID string) ([]model.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes`
	var args []any
	if teacherID != "" {
		query += ` WHERE teacher_id = $1`
		args = append(args, teacherID)
	}
	query += ` ORDER BY name, section`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.Class{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) UpdateClass(ctx context.Context, c model.Class) (model.Class, error) {
	out, err := scanClass(r.db.QueryRowContext(ctx, `
		UPDATE classes SET name = $2, section = $3, subject = $4
		WHERE id = $1
		RETURNING `+classColumns, c.ID, c.Name, c.Section, c.Subject))
	if err != nil {
		return model.Class{}, notFound(err, "class")
	}
	return out, nil
}

func (r *PostgresRepository) DeleteClass(ctx context.Context, id string) error {
	// students and attendance go with it through ON DELETE CASCADE
	res, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res, "class")
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

const studentColumns = `id, name, roll_number, class_id, email, phone, created_at`

func scanStudent(s interface{ Scan(...any) error }) (model.Student, error) {
	var st model.Student
	err := s.Scan(&st.ID, &st.Name, &st.RollNumber, &st.ClassID, &st.Email, &st.Phone, &st.CreatedAt)
	return st, err
}

func (r *PostgresRepository) CreateStudent(ctx context.Context, s model.Student) (model.Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, name, roll_number, class_id, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.ID, s.Name, s.RollNumber, s.ClassID, s.Email, s.Phone)
	if err := row.Scan(&s.CreatedAt); err != nil {
		if isUnique(err, "students_class_roll_key") {
			return model.Student{}, ErrDuplicateRoll
		}
		return model.Student{}, err
	}
	return s, nil
}

func (r *PostgresRepository) GetStudent(ctx context.Context, id string) (model.Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if err != nil {
		return model.Student{}, notFound(err, "student")
	}
	return st, nil
}

func (r *PostgresRepository) ListStudents(ctx context.Context, classID string) ([]model.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var args []any
	if classID != "" {
		query += ` WHERE class_id = $1`
		args = append(args, classID)
	}
	query += ` ORDER BY roll_number, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) UpdateStudent(ctx context.Context, s model.Student) (model.Student, error) {
	out, err := scanStudent(r.db.QueryRowContext(ctx, `
		UPDATE students SET name = $2, roll_number = $3, class_id = $4, email = $5, phone = $6
		WHERE id = $1
		RETURNING `+studentColumns, s.ID, s.Name, s.RollNumber, s.ClassID, s.Email, s.Phone))
	if err != nil {
		if isUnique(err, "students_class_roll_key") {
			return model.Student{}, ErrDuplicateRoll
		}
		return model.Student{}, notFound(err, "student")
	}
	return out, nil
}

func (r *PostgresRepository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affected(res, "student")
}

func (r *PostgresRepository) UpsertAttendance(ctx context.Context, classID, date, markedBy string, marks []model.Mark) ([]model.UpsertResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance (id, student_id, class_id, date, status, remarks, marked_by)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		ON CONFLICT (student_id, class_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			remarks = EXCLUDED.remarks,
			marked_by = EXCLUDED.marked_by,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	results := make([]model.UpsertResult, 0, len(marks))
	for _, m := range marks {
		var inserted bool
		if err := stmt.QueryRowContext(ctx, uuid.NewString(), m.StudentID, classID, date, string(m.Status), m.Remarks, markedBy).Scan(&inserted); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", m.StudentID, err)
		}
		action := "updated"
		if inserted {
			action = "created"
		}
		results = append(results, model.UpsertResult{StudentID: m.StudentID, Action: action})
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

const recordColumns = `id, student_id, class_id, to_char(date, 'YYYY-MM-DD'), status, remarks, marked_by, created_at, updated_at`

func scanRecord(s interface{ Scan(...any) error }) (model.Record, error) {
	var (
		rec    model.Record
		status string
	)
	err := s.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Date, &status, &rec.Remarks, &rec.MarkedBy, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Status = model.Status(status)
	return rec, err
}

func (r *PostgresRepository) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) ListAttendance(ctx context.Context, f Filter) ([]model.Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ClassID != "" {
		add("class_id = $%d", f.ClassID)
	}
	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	switch {
	case f.Date != "":
		add("date = $%d::date", f.Date)
	case f.StartDate != "" && f.EndDate != "":
		add("date >= $%d::date", f.StartDate)
		add("date <= $%d::date", f.EndDate)
	}

	query := `SELECT ` + recordColumns + ` FROM attendance`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date, student_id"
	return r.queryRecords(ctx, query, args...)
}

func (r *PostgresRepository) CountClasses(ctx context.Context, teacherID string) (int, error) {
	var n int
	var err error
	if teacherID == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classes`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classes WHERE teacher_id = $1`, teacherID).Scan(&n)
	}
	return n, err
}

func (r *PostgresRepository) CountStudents(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CountAttendanceOn(ctx context.Context, date string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance WHERE date = $1::date`, date).Scan(&n)
	return n, err
}

func (r *PostgresRepository) RecentAttendance(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.queryRecords(ctx, `SELECT `+recordColumns+` FROM attendance ORDER BY created_at DESC LIMIT $1`, limit)
}

// Ping verifies the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("no database")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}
