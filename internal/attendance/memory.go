package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendly/internal/model"
)

// MemoryRepository keeps everything in maps. It is used by tests and by the
// API when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]model.User
	hashes   map[string]string
	classes  map[string]model.Class
	students map[string]model.Student
	records  map[recordKey]model.Record
	now      func() time.Time
}

type recordKey struct {
	studentID, classID, date string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]model.User),
		hashes:   make(map[string]string),
		classes:  make(map[string]model.Class),
		students: make(map[string]model.Student),
		records:  make(map[recordKey]model.Record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) CreateUser(_ context.Context, u model.User, passwordHash string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return model.User{}, ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	m.users[u.ID] = u
	m.hashes[u.ID] = passwordHash
	return u, nil
}

func (m *MemoryRepository) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %w", ErrNotFound)
	}
	return u, nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (model.User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, u := range m.users {
		if u.Email == email {
			return u, m.hashes[id], nil
		}
	}
	return model.User{}, "", fmt.Errorf("user %w", ErrNotFound)
}

func (m *MemoryRepository) CreateClass(_ context.Context, c model.Class) (model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = m.now()
	m.classes[c.ID] = c
	return c, nil
}

func (m *MemoryRepository) GetClass(_ context.Context, id string) (model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return model.Class{}, fmt.Errorf("class %w", ErrNotFound)
	}
	return c, nil
}

func (m *MemoryRepository) ListClasses(_ context.Context, teacherID string) ([]model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []model.Class{}
	for _, c := range m.classes {
		if teacherID == "" || c.TeacherID == teacherID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].Section < res[j].Section
	})
	return res, nil
}

func (m *MemoryRepository) UpdateClass(_ context.Context, c model.Class) (model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.classes[c.ID]
	if !ok {
		return model.Class{}, fmt.Errorf("class %w", ErrNotFound)
	}
	existing.Name, existing.Section, existing.Subject = c.Name, c.Section, c.Subject
	m.classes[c.ID] = existing
	return existing, nil
}

func (m *MemoryRepository) DeleteClass(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[id]; !ok {
		return fmt.Errorf("class %w", ErrNotFound)
	}
	delete(m.classes, id)
	for sid, st := range m.students {
		if st.ClassID == id {
			delete(m.students, sid)
		}
	}
	for k := range m.records {
		if k.classID == id {
			delete(m.records, k)
		}
	}
	return nil
}

func (m *MemoryRepository) rollTaken(s model.Student) bool {
	for _, other := range m.students {
		if other.ID != s.ID && other.ClassID == s.ClassID && other.RollNumber == s.RollNumber {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) CreateStudent(_ context.Context, s model.Student) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if m.rollTaken(s) {
		return model.Student{}, ErrDuplicateRoll
	}
	s.CreatedAt = m.now()
	m.students[s.ID] = s
	return s, nil
}

func (m *MemoryRepository) GetStudent(_ context.Context, id string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return model.Student{}, fmt.Errorf("student %w", ErrNotFound)
	}
	return s, nil
}

func (m *MemoryRepository) ListStudents(_ context.Context, classID string) ([]model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []model.Student{}
	for _, s := range m.students {
		if classID == "" || s.ClassID == classID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].RollNumber != res[j].RollNumber {
			return res[i].RollNumber < res[j].RollNumber
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (m *MemoryRepository) UpdateStudent(_ context.Context, s model.Student) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.students[s.ID]
	if !ok {
		return model.Student{}, fmt.Errorf("student %w", ErrNotFound)
	}
	if m.rollTaken(s) {
		return model.Student{}, ErrDuplicateRoll
	}
	s.CreatedAt = existing.CreatedAt
	m.students[s.ID] = s
	return s, nil
}

func (m *MemoryRepository) DeleteStudent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return fmt.Errorf("student %w", ErrNotFound)
	}
	delete(m.students, id)
	for k := range m.records {
		if k.studentID == id {
			delete(m.records, k)
		}
	}
	return nil
}

func (m *MemoryRepository) UpsertAttendance(_ context.Context, classID, date, markedBy string, marks []model.Mark) ([]model.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// check everything first so a bad mark leaves the store untouched
	for _, mk := range marks {
		if _, ok := m.students[mk.StudentID]; !ok {
			return nil, fmt.Errorf("upsert %s: student %w", mk.StudentID, ErrNotFound)
		}
	}
	now := m.now()
	results := make([]model.UpsertResult, 0, len(marks))
	for _, mk := range marks {
		key := recordKey{studentID: mk.StudentID, classID: classID, date: date}
		rec, exists := m.records[key]
		if !exists {
			rec = model.Record{
				ID:        uuid.NewString(),
				StudentID: mk.StudentID,
				ClassID:   classID,
				Date:      date,
				CreatedAt: now,
			}
		}
		rec.Status = mk.Status
		rec.Remarks = mk.Remarks
		rec.MarkedBy = markedBy
		rec.UpdatedAt = now
		m.records[key] = rec

		action := "created"
		if exists {
			action = "updated"
		}
		results = append(results, model.UpsertResult{StudentID: mk.StudentID, Action: action})
	}
	return results, nil
}

func (m *MemoryRepository) ListAttendance(_ context.Context, f Filter) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []model.Record{}
	for _, rec := range m.records {
		if f.ClassID != "" && rec.ClassID != f.ClassID {
			continue
		}
		if f.StudentID != "" && rec.StudentID != f.StudentID {
			continue
		}
		switch {
		case f.Date != "":
			if rec.Date != f.Date {
				continue
			}
		case f.StartDate != "" && f.EndDate != "":
			// YYYY-MM-DD sorts lexically
			if rec.Date < f.StartDate || rec.Date > f.EndDate {
				continue
			}
		}
		res = append(res, rec)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Date != res[j].Date {
			return res[i].Date < res[j].Date
		}
		return res[i].StudentID < res[j].StudentID
	})
	return res, nil
}

func (m *MemoryRepository) CountClasses(_ context.Context, teacherID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.classes {
		if teacherID == "" || c.TeacherID == teacherID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) CountStudents(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

func (m *MemoryRepository) CountAttendanceOn(_ context.Context, date string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.records {
		if k.date == date {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) RecentAttendance(_ context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	res := make([]model.Record, 0, len(m.records))
	for _, rec := range m.records {
		res = append(res, rec)
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
