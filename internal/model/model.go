package model

import (
	"errors"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Status is the attendance status of a student on a date.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// Statuses lists the supported values in display order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate}

// Valid reports whether s is a supported status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	default:
		return false
	}
}

// Roles.
const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User is an account that can sign in.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may act on every class.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Class is a teaching group owned by a teacher.
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Section   string    `json:"section"`
	Subject   *string   `json:"subject,omitempty"`
	TeacherID string    `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Student belongs to exactly one class.
type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RollNumber string    `json:"roll_number"`
	ClassID    string    `json:"class_id"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is the stored attendance of one student on one date.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	Date      string    `json:"date"`
	Status    Status    `json:"status"`
	Remarks   *string   `json:"remarks,omitempty"`
	MarkedBy  string    `json:"marked_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mark is one entry of a bulk attendance submission.
type Mark struct {
	StudentID string  `json:"student_id"`
	Status    Status  `json:"status"`
	Remarks   *string `json:"remarks,omitempty"`
}

// UpsertResult reports what a bulk upsert did for one student: "created" or
// "updated".
type UpsertResult struct {
	StudentID string `json:"student_id"`
	Action    string `json:"action"`
}

// ReportRow summarises one student's attendance over a date range.
// AttendancePercentage is nil when the class held no session in the range.
type ReportRow struct {
	StudentID            string `json:"student_id"`
	RollNumber           string `json:"roll_number"`
	StudentName          string `json:"student_name"`
	TotalDays            int    `json:"total_days"`
	RecordedDays         int    `json:"recorded_days"`
	Present              int    `json:"present"`
	Absent               int    `json:"absent"`
	Late                 int    `json:"late"`
	AttendancePercentage *int   `json:"attendance_percentage"`
}

// Report is the response of a report query.
type Report struct {
	ClassID   string      `json:"class_id"`
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	Rows      []ReportRow `json:"report"`
}

// DashboardStats is the landing page summary.
type DashboardStats struct {
	TotalClasses     int      `json:"total_classes"`
	TotalStudents    int      `json:"total_students"`
	TodayAttendance  int      `json:"today_attendance"`
	RecentAttendance []Record `json:"recent_attendance"`
}

// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
var ErrInvalidDate = errors.New("invalid date, use YYYY-MM-DD")

// ParseDate parses a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// Today returns the current UTC calendar date.
func Today() string { return FormatDate(time.Now().UTC()) }
