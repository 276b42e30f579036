package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_mutations_total",
	Help: "Attendance record mutations by operation and resulting status.",
}, []string{"operation", "status"})

// Service coordinates reconciliation, attendance mutations and derived
// metrics on top of a Store. Mutations are serialized.
type Service struct {
	store    Store
	now      func() time.Time
	loc      *time.Location
	cache    StatsCache
	notifier Notifier
	log      *slog.Logger

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithStatsCache enables caching of daily stats.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithNotifier publishes a Change after every mutation.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		now:      time.Now,
		loc:      time.UTC,
		cache:    noopCache{},
		notifier: noopNotifier{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for read-only projections.
func (s *Service) Store() Store { return s.store }

// Today returns the current calendar day in the service's timezone.
func (s *Service) Today() Date {
	return DateOf(s.now().In(s.loc))
}

// Reconcile makes sure every enrolled student has a record for date in each
// of their classes. Missing records are created as absent; existing ones are
// never touched. It returns the number of records created.
func (s *Service) Reconcile(ctx context.Context, date Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx, date)
}

func (s *Service) reconcileLocked(ctx context.Context, date Date) (int, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list classes: %w", err)
	}
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list students: %w", err)
	}
	existing, err := s.store.ListRecords(ctx, RecordFilter{Date: date})
	if err != nil {
		return 0, fmt.Errorf("reconcile: list records: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		have[r.ID] = struct{}{}
	}

	var missing []Record
	touched := make(map[string]struct{})
	for _, c := range classes {
		for _, st := range students {
			if !st.EnrolledIn(c.ID) {
				continue
			}
			id := RecordID(st.ID, c.ID, date)
			if _, ok := have[id]; ok {
				continue
			}
			missing = append(missing, Record{ID: id, StudentID: st.ID, ClassID: c.ID, Date: date, Status: StatusAbsent})
			touched[c.ID] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	n, err := s.store.InsertRecords(ctx, missing)
	if err != nil {
		return 0, fmt.Errorf("reconcile: insert: %w", err)
	}
	for classID := range touched {
		s.changed(ctx, classID, date)
	}
	s.log.Debug("reconciled attendance", "date", date, "created", n)
	return n, nil
}

// changed invalidates cached stats and publishes the change.
func (s *Service) changed(ctx context.Context, classID string, date Date) {
	s.cache.Invalidate(ctx, classID, date)
	if err := s.notifier.Notify(ctx, Change{ClassID: classID, Date: date}); err != nil {
		s.log.Warn("publish attendance change failed", "class_id", classID, "date", date, "error", err)
	}
}

// MarkPresent records the student as present in classID today. A record that
// is already present or justified is rejected with ErrAlreadyMarked.
func (s *Service) MarkPresent(ctx context.Context, studentID, classID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return Record{}, err
	}
	if !st.EnrolledIn(classID) {
		return Record{}, ErrNotEnrolled
	}

	today := s.Today()
	if _, err := s.reconcileLocked(ctx, today); err != nil {
		return Record{}, err
	}
	rec, err := s.store.GetRecord(ctx, RecordID(studentID, classID, today))
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Qualifies() {
		return Record{}, ErrAlreadyMarked
	}
	rec.Status = StatusPresent
	if err := s.store.PutRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("mark present: %w", err)
	}
	mutationsTotal.WithLabelValues("mark_present", string(rec.Status)).Inc()
	s.changed(ctx, classID, today)
	s.log.Info("attendance marked", "student_id", studentID, "class_id", classID, "date", today)
	return rec, nil
}

// SetStatus overwrites (or creates) the record of a student in a class on
// any date. Only present and absent may be set directly.
func (s *Service) SetStatus(ctx context.Context, studentID, classID string, date Date, status Status) (Record, error) {
	if status != StatusPresent && status != StatusAbsent {
		return Record{}, invalid("status", "must be present or absent")
	}
	if _, err := ParseDate(string(date)); err != nil {
		return Record{}, invalid("date", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return Record{}, err
	}
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return Record{}, err
	}

	id := RecordID(studentID, classID, date)
	rec, err := s.store.GetRecord(ctx, id)
	switch {
	case err == nil:
	case isNotFound(err):
		rec = Record{ID: id, StudentID: studentID, ClassID: classID, Date: date}
	default:
		return Record{}, err
	}
	rec.Status = status
	if err := s.store.PutRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("set status: %w", err)
	}
	mutationsTotal.WithLabelValues("set_status", string(status)).Inc()
	s.changed(ctx, classID, date)
	return rec, nil
}

// JustifyAbsence attaches a justification to a record and marks it pending
// review. The record's status is unchanged.
func (s *Service) JustifyAbsence(ctx context.Context, recordID, text string) (Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, required("justification")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	rec.Justification = text
	rec.JustificationStatus = JustificationPending
	if err := s.store.PutRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("justify absence: %w", err)
	}
	mutationsTotal.WithLabelValues("justify", string(rec.Status)).Inc()
	return rec, nil
}

// UpdateJustificationStatus applies a teacher's decision: approval turns the
// record into a justified absence, rejection reverts it to absent.
func (s *Service) UpdateJustificationStatus(ctx context.Context, recordID string, decision JustificationStatus) (Record, error) {
	var status Status
	switch decision {
	case JustificationApproved:
		status = StatusJustifiedAbsent
	case JustificationRejected:
		status = StatusAbsent
	default:
		return Record{}, invalid("decision", "must be approved or rejected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	rec.JustificationStatus = decision
	rec.Status = status
	if err := s.store.PutRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("update justification: %w", err)
	}
	mutationsTotal.WithLabelValues("review", string(status)).Inc()
	s.changed(ctx, rec.ClassID, rec.Date)
	return rec, nil
}

// AddStudent stores a newly registered student and reconciles today's records.
func (s *Service) AddStudent(ctx context.Context, st Student, passwordHash string) (Student, error) {
	switch {
	case strings.TrimSpace(st.ID) == "":
		return Student{}, required("id")
	case strings.TrimSpace(st.Name) == "":
		return Student{}, required("name")
	case strings.TrimSpace(st.Email) == "":
		return Student{}, required("email")
	case len(st.ClassIDs) == 0:
		return Student{}, invalid("class_ids", "select at least one class")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cid := range st.ClassIDs {
		if _, err := s.store.GetClass(ctx, cid); err != nil {
			return Student{}, err
		}
	}
	if err := s.store.CreateStudent(ctx, st, passwordHash); err != nil {
		return Student{}, err
	}
	if _, err := s.reconcileLocked(ctx, s.Today()); err != nil {
		return Student{}, err
	}
	s.enrollmentChanged(ctx, st.ClassIDs)
	s.log.Info("student registered", "student_id", st.ID, "classes", len(st.ClassIDs))
	return st, nil
}

// SetEnrollment replaces the set of classes a student belongs to.
func (s *Service) SetEnrollment(ctx context.Context, studentID string, classIDs []string) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cid := range classIDs {
		if _, err := s.store.GetClass(ctx, cid); err != nil {
			return Student{}, err
		}
	}
	before, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, err
	}
	if err := s.store.SetEnrollment(ctx, studentID, classIDs); err != nil {
		return Student{}, err
	}
	if _, err := s.reconcileLocked(ctx, s.Today()); err != nil {
		return Student{}, err
	}
	s.enrollmentChanged(ctx, before.ClassIDs, classIDs)
	return s.store.GetStudent(ctx, studentID)
}

// enrollmentChanged drops every cached day of the given classes, since the
// enrolled count feeds the stats of past days too. Callers hold s.mu.
func (s *Service) enrollmentChanged(ctx context.Context, sets ...[]string) {
	seen := make(map[string]struct{})
	for _, ids := range sets {
		for _, cid := range ids {
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			s.cache.InvalidateClass(ctx, cid)
			if err := s.notifier.Notify(ctx, Change{ClassID: cid}); err != nil {
				s.log.Warn("publish enrollment change failed", "class_id", cid, "error", err)
			}
		}
	}
}

// Student returns one student.
func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	return s.store.GetStudent(ctx, id)
}

// Students returns all students, optionally limited to one class.
func (s *Service) Students(ctx context.Context, classID string) ([]Student, error) {
	all, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	if classID == "" {
		return all, nil
	}
	var out []Student
	for _, st := range all {
		if st.EnrolledIn(classID) {
			out = append(out, st)
		}
	}
	return out, nil
}

// StudentRecords returns a student's records, newest first.
func (s *Service) StudentRecords(ctx context.Context, studentID string) ([]Record, error) {
	if _, err := s.Reconcile(ctx, s.Today()); err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecords(ctx, RecordFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date > recs[j].Date })
	return recs, nil
}

// ClassRecords returns the records of a class on one day.
func (s *Service) ClassRecords(ctx context.Context, classID string, date Date) ([]Record, error) {
	if err := s.reconcileIfToday(ctx, date); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, RecordFilter{ClassID: classID, Date: date})
}

func (s *Service) reconcileIfToday(ctx context.Context, date Date) error {
	if date != s.Today() {
		return nil
	}
	_, err := s.Reconcile(ctx, date)
	return err
}

// ClassQuery filters and orders ListClasses.
type ClassQuery struct {
	// Name matches case-insensitively as a substring.
	Name string
	// Sort is "newest" (default) or "oldest" by creation time.
	Sort string
}

// ListClasses returns classes matching q.
func (s *Service) ListClasses(ctx context.Context, q ClassQuery) ([]Class, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q.Name)
	out := make([]Class, 0, len(classes))
	for _, c := range classes {
		if needle == "" || strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Sort == "oldest" {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AddClass creates a class owned by the current teacher.
func (s *Service) AddClass(ctx context.Context, name string) (Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Class{}, required("name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	teacherID := DefaultTeacherID
	if t, err := s.store.Teacher(ctx); err == nil && t.ID != "" {
		teacherID = t.ID
	}
	c := Class{ID: "c" + uuid.NewString(), Name: name, TeacherID: teacherID, CreatedAt: s.now().UTC()}
	if err := s.store.CreateClass(ctx, c); err != nil {
		return Class{}, fmt.Errorf("add class: %w", err)
	}
	s.log.Info("class created", "class_id", c.ID)
	return c, nil
}

// RenameClass changes a class name.
func (s *Service) RenameClass(ctx context.Context, id, name string) (Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Class{}, required("name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.RenameClass(ctx, id, name); err != nil {
		return Class{}, err
	}
	return s.store.GetClass(ctx, id)
}

// DeleteClass removes a class together with its records and enrollments.
func (s *Service) DeleteClass(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteClass(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateClass(ctx, id)
	s.log.Info("class deleted", "class_id", id)
	return nil
}

// Teacher returns the teacher profile.
func (s *Service) Teacher(ctx context.Context) (Teacher, error) {
	return s.store.Teacher(ctx)
}

// UpdateTeacherProfile applies the non-nil fields of u.
func (s *Service) UpdateTeacherProfile(ctx context.Context, u TeacherUpdate) (Teacher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.store.Teacher(ctx)
	if err != nil {
		return Teacher{}, err
	}
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Email != nil {
		if strings.TrimSpace(*u.Email) == "" {
			return Teacher{}, required("email")
		}
		t.Email = *u.Email
	}
	if u.Sector != nil {
		t.Sector = *u.Sector
	}
	if u.PhotoURL != nil {
		t.PhotoURL = *u.PhotoURL
	}
	if err := s.store.SaveTeacher(ctx, t); err != nil {
		return Teacher{}, err
	}
	return t, nil
}

// LogCommunication appends a communication log with snapshots of the
// student and class names.
func (s *Service) LogCommunication(ctx context.Context, studentID, classID string, kind CommunicationType, content string) (CommunicationLog, error) {
	if !kind.Valid() {
		return CommunicationLog{}, invalid("type", "must be absence, positive, support or corrective")
	}
	if strings.TrimSpace(content) == "" {
		return CommunicationLog{}, required("content")
	}
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return CommunicationLog{}, err
	}
	c, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return CommunicationLog{}, err
	}
	log := CommunicationLog{
		ID:          "comm-" + uuid.NewString(),
		StudentID:   st.ID,
		StudentName: st.Name,
		ClassID:     c.ID,
		ClassName:   c.Name,
		Type:        kind,
		Content:     content,
		Timestamp:   s.now().UTC(),
	}
	if err := s.store.AppendCommunication(ctx, log); err != nil {
		return CommunicationLog{}, fmt.Errorf("log communication: %w", err)
	}
	return log, nil
}

// Communications lists logs for a student (or all when studentID is empty), newest first.
func (s *Service) Communications(ctx context.Context, studentID string) ([]CommunicationLog, error) {
	return s.store.ListCommunications(ctx, studentID)
}
