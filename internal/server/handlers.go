package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/model"
)

// ---------- Errors ----------

func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *attendance.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrDuplicateEmail), errors.Is(err, attendance.ErrDuplicateRoll):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// bindError turns a gin binding failure into a 400 with field names.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+": required")
		case "email":
			msgs = append(msgs, fe.Field()+": not a valid address")
		case "min":
			msgs = append(msgs, fe.Field()+": must be at least "+fe.Param())
		default:
			msgs = append(msgs, fe.Field()+": failed "+fe.Tag())
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": strings.Join(msgs, "; ")})
}

func actorFrom(c *gin.Context) attendance.Actor {
	claims, _ := auth.ClaimsFrom(c)
	return attendance.Actor{ID: claims.Subject, Role: claims.Role}
}

// ---------- Auth ----------

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}

// Register creates a teacher or admin account.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, err := h.svc.Register(c.Request.Context(), attendance.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	tok, err := h.issuer.Issue(u.ID, u.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok.AccessToken,
		"token_type":   "bearer",
		"expires_at":   tok.ExpiresAt.Unix(),
		"user":         u,
	})
}

// Me returns the authenticated account.
func (h *Handler) Me(c *gin.Context) {
	u, err := h.svc.User(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---------- Classes ----------

type classRequest struct {
	Name    string  `json:"name" binding:"required"`
	Section string  `json:"section" binding:"required"`
	Subject *string `json:"subject"`
}

func (r classRequest) input() attendance.ClassInput {
	return attendance.ClassInput{Name: r.Name, Section: r.Section, Subject: r.Subject}
}

func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	cl, err := h.svc.CreateClass(c.Request.Context(), actorFrom(c), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cl)
}

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) GetClass(c *gin.Context) {
	cl, err := h.svc.Class(c.Request.Context(), c.Param("class_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	cl, err := h.svc.UpdateClass(c.Request.Context(), actorFrom(c), c.Param("class_id"), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h *Handler) DeleteClass(c *gin.Context) {
	if err := h.svc.DeleteClass(c.Request.Context(), actorFrom(c), c.Param("class_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "class deleted"})
}

// ---------- Students ----------

type studentRequest struct {
	Name       string  `json:"name" binding:"required"`
	RollNumber string  `json:"roll_number" binding:"required"`
	ClassID    string  `json:"class_id" binding:"required"`
	Email      *string `json:"email" binding:"omitempty,email"`
	Phone      *string `json:"phone"`
}

func (r studentRequest) input() attendance.StudentInput {
	return attendance.StudentInput{
		Name:       r.Name,
		RollNumber: r.RollNumber,
		ClassID:    r.ClassID,
		Email:      r.Email,
		Phone:      r.Phone,
	}
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	st, err := h.svc.CreateStudent(c.Request.Context(), actorFrom(c), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context(), c.Query("class_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.svc.Student(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	st, err := h.svc.UpdateStudent(c.Request.Context(), actorFrom(c), c.Param("student_id"), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.svc.DeleteStudent(c.Request.Context(), actorFrom(c), c.Param("student_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "student deleted"})
}

// ---------- Attendance ----------

type markRequest struct {
	StudentID string       `json:"student_id" binding:"required"`
	ClassID   string       `json:"class_id" binding:"required"`
	Date      string       `json:"date" binding:"required"`
	Status    model.Status `json:"status" binding:"required"`
	Remarks   *string      `json:"remarks"`
}

// MarkAttendance upserts one student's attendance.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rec, err := h.svc.MarkOne(c.Request.Context(), actorFrom(c), req.ClassID, req.Date, model.Mark{
		StudentID: req.StudentID,
		Status:    req.Status,
		Remarks:   req.Remarks,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type bulkRequest struct {
	ClassID           string       `json:"class_id" binding:"required"`
	Date              string       `json:"date" binding:"required"`
	AttendanceRecords []model.Mark `json:"attendance_records" binding:"required,min=1"`
}

// MarkBulkAttendance upserts a whole class on one date; an invalid entry
// rejects the batch.
func (h *Handler) MarkBulkAttendance(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	results, err := h.svc.MarkAttendance(c.Request.Context(), actorFrom(c), req.ClassID, req.Date, req.AttendanceRecords)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance marked", "results": results})
}

func (h *Handler) ListAttendance(c *gin.Context) {
	recs, err := h.svc.ListAttendance(c.Request.Context(), attendance.Filter{
		ClassID:   c.Query("class_id"),
		StudentID: c.Query("student_id"),
		Date:      c.Query("date"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// Report returns per-student totals for a class over a date range.
func (h *Handler) Report(c *gin.Context) {
	rep, err := h.svc.Report(c.Request.Context(), c.Query("class_id"), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ---------- Dashboard ----------

func (h *Handler) DashboardStats(c *gin.Context) {
	stats, err := h.svc.Dashboard(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
