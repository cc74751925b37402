// Package report derives per-student attendance summaries and display tiers.
// It is shared by the API, which builds reports, and by clients, which validate
// queries and bucket percentages for display.
package report

import (
	"fmt"

	"attendly/internal/model"
)

// Tier is a display bucket derived from an attendance percentage.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierWarning   Tier = "warning"
	TierCritical  Tier = "critical"
	TierNoData    Tier = "no-data"
)

// RangeError rejects a report query before it is sent.
type RangeError struct {
	Field  string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateRange checks that start and end are dates and start <= end.
func ValidateRange(start, end string) error {
	s, err := model.ParseDate(start)
	if err != nil {
		return &RangeError{Field: "start_date", Reason: err.Error()}
	}
	e, err := model.ParseDate(end)
	if err != nil {
		return &RangeError{Field: "end_date", Reason: err.Error()}
	}
	if s.After(e) {
		return &RangeError{Field: "start_date", Reason: "must not be after end_date"}
	}
	return nil
}

// Percentage returns present/total*100 rounded half up. ok is false when
// total is zero; the returned value is then 0.
func Percentage(present, total int) (pct int, ok bool) {
	if total <= 0 {
		return 0, false
	}
	if present < 0 {
		present = 0
	}
	return (200*present + total) / (2 * total), true
}

// TierFor buckets a percentage.
func TierFor(pct int) Tier {
	switch {
	case pct >= 90:
		return TierExcellent
	case pct >= 75:
		return TierGood
	case pct >= 60:
		return TierWarning
	default:
		return TierCritical
	}
}

// TierOf buckets a report row, returning TierNoData when no session was held.
func TierOf(row model.ReportRow) Tier {
	if row.AttendancePercentage == nil {
		return TierNoData
	}
	return TierFor(*row.AttendancePercentage)
}

// Build aggregates records into one row per student, in roster order.
// records must already be limited to the class and date range; records of
// students outside the roster still count towards the class session days.
func Build(roster []model.Student, records []model.Record) []model.ReportRow {
	days := make(map[string]struct{})
	byStudent := make(map[string][]model.Record, len(roster))
	for _, r := range records {
		days[r.Date] = struct{}{}
		byStudent[r.StudentID] = append(byStudent[r.StudentID], r)
	}
	total := len(days)

	rows := make([]model.ReportRow, 0, len(roster))
	for _, st := range roster {
		row := model.ReportRow{
			StudentID:   st.ID,
			RollNumber:  st.RollNumber,
			StudentName: st.Name,
			TotalDays:   total,
		}
		seen := make(map[string]struct{})
		for _, r := range byStudent[st.ID] {
			// one record per (student, date); guard against duplicates anyway
			if _, dup := seen[r.Date]; dup {
				continue
			}
			seen[r.Date] = struct{}{}
			switch r.Status {
			case model.StatusPresent:
				row.Present++
			case model.StatusAbsent:
				row.Absent++
			case model.StatusLate:
				row.Late++
			}
		}
		row.RecordedDays = len(seen)
		if pct, ok := Percentage(row.Present, total); ok {
			p := pct
			row.AttendancePercentage = &p
		}
		rows = append(rows, row)
	}
	return rows
}

// Label renders a row's percentage for display, keeping "no data" and
// "no marks" distinct from a real 0%.
func Label(row model.ReportRow) string {
	switch {
	case row.AttendancePercentage == nil:
		return "no data"
	case row.RecordedDays == 0:
		return fmt.Sprintf("%d%% (no marks)", *row.AttendancePercentage)
	default:
		return fmt.Sprintf("%d%%", *row.AttendancePercentage)
	}
}
