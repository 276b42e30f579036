package attendance

import (
	"context"
	"sort"
	"sync"
)

// Store owns every entity collection. Records reference students and
// classes by id only.
type Store interface {
	// CreateStudent fails with ErrDuplicateID or ErrDuplicateEmail.
	CreateStudent(ctx context.Context, st Student, passwordHash string) error
	GetStudent(ctx context.Context, id string) (Student, error)
	StudentByEmail(ctx context.Context, email string) (Student, error)
	PasswordHash(ctx context.Context, email string) (string, error)
	ListStudents(ctx context.Context) ([]Student, error)
	SetEnrollment(ctx context.Context, studentID string, classIDs []string) error

	CreateClass(ctx context.Context, c Class) error
	GetClass(ctx context.Context, id string) (Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
	RenameClass(ctx context.Context, id, name string) error
	// DeleteClass also removes the class's records and enrollments.
	DeleteClass(ctx context.Context, id string) error

	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
	// InsertRecords stores the records whose id is not taken yet and
	// returns how many were stored.
	InsertRecords(ctx context.Context, recs []Record) (int, error)
	PutRecord(ctx context.Context, rec Record) error

	Teacher(ctx context.Context) (Teacher, error)
	SaveTeacher(ctx context.Context, t Teacher) error

	AppendCommunication(ctx context.Context, log CommunicationLog) error
	// ListCommunications returns logs newest first; an empty studentID lists all.
	ListCommunications(ctx context.Context, studentID string) ([]CommunicationLog, error)
}

// MemoryStore keeps all state in process memory. It is reset on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	students    map[string]Student
	credentials map[string]string
	classes     map[string]Class
	records     map[string]Record
	teacher     Teacher
	comms       []CommunicationLog
}

// NewMemoryStore creates a store holding the given teacher and classes.
func NewMemoryStore(teacher Teacher, classes []Class) *MemoryStore {
	m := &MemoryStore{
		students:    make(map[string]Student),
		credentials: make(map[string]string),
		classes:     make(map[string]Class, len(classes)),
		records:     make(map[string]Record),
		teacher:     teacher,
	}
	for _, c := range classes {
		m.classes[c.ID] = c
	}
	return m
}

func cloneStudent(st Student) Student {
	st.ClassIDs = append([]string(nil), st.ClassIDs...)
	return st
}

func (m *MemoryStore) CreateStudent(_ context.Context, st Student, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[st.ID]; ok {
		return ErrDuplicateID
	}
	for _, other := range m.students {
		if other.Email == st.Email {
			return ErrDuplicateEmail
		}
	}
	m.students[st.ID] = cloneStudent(st)
	m.credentials[st.Email] = passwordHash
	return nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[id]
	if !ok {
		return Student{}, notFound("student", id)
	}
	return cloneStudent(st), nil
}

func (m *MemoryStore) StudentByEmail(_ context.Context, email string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.students {
		if st.Email == email {
			return cloneStudent(st), nil
		}
	}
	return Student{}, notFound("student", email)
}

func (m *MemoryStore) PasswordHash(_ context.Context, email string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.credentials[email]
	if !ok {
		return "", notFound("credential", email)
	}
	return h, nil
}

func (m *MemoryStore) ListStudents(_ context.Context) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		out = append(out, cloneStudent(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetEnrollment(_ context.Context, studentID string, classIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[studentID]
	if !ok {
		return notFound("student", studentID)
	}
	st.ClassIDs = append([]string(nil), classIDs...)
	m.students[studentID] = st
	return nil
}

func (m *MemoryStore) CreateClass(_ context.Context, c Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[c.ID]; ok {
		return ErrDuplicate
	}
	m.classes[c.ID] = c
	return nil
}

func (m *MemoryStore) GetClass(_ context.Context, id string) (Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return Class{}, notFound("class", id)
	}
	return c, nil
}

func (m *MemoryStore) ListClasses(_ context.Context) ([]Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Class, 0, len(m.classes))
	for _, c := range m.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) RenameClass(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok {
		return notFound("class", id)
	}
	c.Name = name
	m.classes[id] = c
	return nil
}

func (m *MemoryStore) DeleteClass(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[id]; !ok {
		return notFound("class", id)
	}
	delete(m.classes, id)
	for rid, r := range m.records {
		if r.ClassID == id {
			delete(m.records, rid)
		}
	}
	for sid, st := range m.students {
		if !st.EnrolledIn(id) {
			continue
		}
		kept := st.ClassIDs[:0:0]
		for _, cid := range st.ClassIDs {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		st.ClassIDs = kept
		m.students[sid] = st
	}
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, notFound("record", id)
	}
	return r, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) InsertRecords(_ context.Context, recs []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range recs {
		if _, ok := m.records[r.ID]; ok {
			continue
		}
		m.records[r.ID] = r
		n++
	}
	return n, nil
}

func (m *MemoryStore) PutRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Teacher(_ context.Context) (Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.teacher, nil
}

func (m *MemoryStore) SaveTeacher(_ context.Context, t Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teacher = t
	return nil
}

func (m *MemoryStore) AppendCommunication(_ context.Context, log CommunicationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comms = append(m.comms, log)
	return nil
}

func (m *MemoryStore) ListCommunications(_ context.Context, studentID string) ([]CommunicationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CommunicationLog
	for i := len(m.comms) - 1; i >= 0; i-- {
		if studentID == "" || m.comms[i].StudentID == studentID {
			out = append(out, m.comms[i])
		}
	}
	return out, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].ID < recs[j].ID
	})
}
