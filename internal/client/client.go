// Package client is a typed HTTP client for the attendly API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"attendly/internal/model"
	"attendly/internal/report"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err means the session is no longer valid.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client calls the attendly REST API. It is safe for concurrent use.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for an API base URL such as http://localhost:8081/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken restores a saved bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Logout forgets the bearer token.
func (c *Client) Logout() { c.SetToken("") }

// ---------- Auth ----------

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration is a sign-up request.
type Registration struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=teacher admin"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, r Registration) (model.User, error) {
	if err := validateStruct(r); err != nil {
		return model.User{}, err
	}
	var u model.User
	err := c.do(ctx, http.MethodPost, "/auth/register", nil, r, &u)
	return u, err
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, creds Credentials) (model.User, error) {
	if err := validateStruct(creds); err != nil {
		return model.User{}, err
	}
	var out struct {
		AccessToken string     `json:"access_token"`
		User        model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return model.User{}, err
	}
	if out.AccessToken == "" {
		return model.User{}, errors.New("login response carried no access token")
	}
	c.SetToken(out.AccessToken)
	return out.User, nil
}

// Me returns the logged in account.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &u)
	return u, err
}

// ---------- Classes ----------

// ClassInput holds the editable fields of a class.
type ClassInput struct {
	Name    string  `json:"name" validate:"required"`
	Section string  `json:"section" validate:"required"`
	Subject *string `json:"subject,omitempty"`
}

func (c *Client) ListClasses(ctx context.Context) ([]model.Class, error) {
	var out []model.Class
	if err := c.do(ctx, http.MethodGet, "/classes", nil, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) CreateClass(ctx context.Context, in ClassInput) (model.Class, error) {
	if err := validateStruct(in); err != nil {
		return model.Class{}, err
	}
	var out model.Class
	err := c.do(ctx, http.MethodPost, "/classes", nil, in, &out)
	return out, err
}

func (c *Client) GetClass(ctx context.Context, id string) (model.Class, error) {
	if err := requireID("class_id", id); err != nil {
		return model.Class{}, err
	}
	var out model.Class
	err := c.do(ctx, http.MethodGet, "/classes/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) UpdateClass(ctx context.Context, id string, in ClassInput) (model.Class, error) {
	if err := requireID("class_id", id); err != nil {
		return model.Class{}, err
	}
	if err := validateStruct(in); err != nil {
		return model.Class{}, err
	}
	var out model.Class
	err := c.do(ctx, http.MethodPut, "/classes/"+url.PathEscape(id), nil, in, &out)
	return out, err
}

func (c *Client) DeleteClass(ctx context.Context, id string) error {
	if err := requireID("class_id", id); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/classes/"+url.PathEscape(id), nil, nil, nil)
}

// ---------- Students ----------

// StudentInput holds the editable fields of a student.
type StudentInput struct {
	Name       string  `json:"name" validate:"required"`
	RollNumber string  `json:"roll_number" validate:"required"`
	ClassID    string  `json:"class_id" validate:"required"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty"`
}

// ListStudents returns the roster of a class, or every student when classID is empty.
func (c *Client) ListStudents(ctx context.Context, classID string) ([]model.Student, error) {
	q := url.Values{}
	if classID != "" {
		q.Set("class_id", classID)
	}
	var out []model.Student
	if err := c.do(ctx, http.MethodGet, "/students", q, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) CreateStudent(ctx context.Context, in StudentInput) (model.Student, error) {
	if err := validateStruct(in); err != nil {
		return model.Student{}, err
	}
	var out model.Student
	err := c.do(ctx, http.MethodPost, "/students", nil, in, &out)
	return out, err
}

func (c *Client) GetStudent(ctx context.Context, id string) (model.Student, error) {
	if err := requireID("student_id", id); err != nil {
		return model.Student{}, err
	}
	var out model.Student
	err := c.do(ctx, http.MethodGet, "/students/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) UpdateStudent(ctx context.Context, id string, in StudentInput) (model.Student, error) {
	if err := requireID("student_id", id); err != nil {
		return model.Student{}, err
	}
	if err := validateStruct(in); err != nil {
		return model.Student{}, err
	}
	var out model.Student
	err := c.do(ctx, http.MethodPut, "/students/"+url.PathEscape(id), nil, in, &out)
	return out, err
}

func (c *Client) DeleteStudent(ctx context.Context, id string) error {
	if err := requireID("student_id", id); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/students/"+url.PathEscape(id), nil, nil, nil)
}

// ---------- Attendance ----------

// GetAttendance returns the records already stored for a class on a date.
func (c *Client) GetAttendance(ctx context.Context, classID, date string) ([]model.Record, error) {
	if err := requireID("class_id", classID); err != nil {
		return nil, err
	}
	if err := validateDate("date", date); err != nil {
		return nil, err
	}
	q := url.Values{"class_id": {classID}, "date": {date}}
	var out []model.Record
	if err := c.do(ctx, http.MethodGet, "/attendance", q, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

// SubmitAttendance sends one bulk upsert for a class and date. The backend
// applies all marks or none.
func (c *Client) SubmitAttendance(ctx context.Context, classID, date string, marks []model.Mark) ([]model.UpsertResult, error) {
	if err := requireID("class_id", classID); err != nil {
		return nil, err
	}
	if err := validateDate("date", date); err != nil {
		return nil, err
	}
	if len(marks) == 0 {
		return nil, &ValidationError{Field: "attendance_records", Reason: "must not be empty"}
	}
	for i, m := range marks {
		if !m.Status.Valid() {
			return nil, &ValidationError{Field: fmt.Sprintf("attendance_records[%d].status", i), Reason: "must be present, absent or late"}
		}
		if m.StudentID == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("attendance_records[%d].student_id", i), Reason: "required"}
		}
	}
	body := struct {
		ClassID string       `json:"class_id"`
		Date    string       `json:"date"`
		Records []model.Mark `json:"attendance_records"`
	}{classID, date, marks}
	var out struct {
		Results []model.UpsertResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/attendance/bulk", nil, body, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Results), nil
}

// Report fetches per-student totals for a class over [start, end]. An
// inverted or malformed range fails before any request is made.
func (c *Client) Report(ctx context.Context, classID, start, end string) (model.Report, error) {
	if err := requireID("class_id", classID); err != nil {
		return model.Report{}, err
	}
	if err := report.ValidateRange(start, end); err != nil {
		var rerr *report.RangeError
		if errors.As(err, &rerr) {
			return model.Report{}, &ValidationError{Field: rerr.Field, Reason: rerr.Reason}
		}
		return model.Report{}, &ValidationError{Reason: err.Error()}
	}
	q := url.Values{"class_id": {classID}, "start_date": {start}, "end_date": {end}}
	var out model.Report
	if err := c.do(ctx, http.MethodGet, "/attendance/report", q, nil, &out); err != nil {
		return model.Report{}, err
	}
	out.Rows = nonNil(out.Rows)
	return out, nil
}

// DashboardStats returns the landing page summary.
func (c *Client) DashboardStats(ctx context.Context) (model.DashboardStats, error) {
	var out model.DashboardStats
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &out); err != nil {
		return model.DashboardStats{}, err
	}
	out.RecentAttendance = nonNil(out.RecentAttendance)
	return out, nil
}

// ---------- Transport ----------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error  any `json:"error"`
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = message(body.Error)
		if apiErr.Message == "" {
			apiErr.Message = message(body.Detail)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fallbackMessage(resp.StatusCode)
	}
	return apiErr
}

// message accepts either a plain string or a list of validation entries
// carrying a "msg" field.
func message(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}

func fallbackMessage(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "session expired, please log in again"
	case code >= 500:
		return "server error, please try again"
	default:
		if text := http.StatusText(code); text != "" {
			return strings.ToLower(text)
		}
		return "request failed"
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
