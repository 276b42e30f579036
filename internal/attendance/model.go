package attendance

import (
	"fmt"
	"time"
)

// Status is the attendance state of a single record.
type Status string

const (
	StatusPresent         Status = "present"
	StatusAbsent          Status = "absent"
	StatusJustifiedAbsent Status = "justified_absent"
)

// Qualifies reports whether the status counts as attendance for rates and streaks.
func (s Status) Qualifies() bool {
	return s == StatusPresent || s == StatusJustifiedAbsent
}

// JustificationStatus tracks the review state of a submitted justification.
type JustificationStatus string

const (
	JustificationPending  JustificationStatus = "pending"
	JustificationApproved JustificationStatus = "approved"
	JustificationRejected JustificationStatus = "rejected"
)

// CommunicationType classifies a message sent to a student.
type CommunicationType string

const (
	CommAbsence    CommunicationType = "absence"
	CommPositive   CommunicationType = "positive"
	CommSupport    CommunicationType = "support"
	CommCorrective CommunicationType = "corrective"
)

// Valid reports whether t is one of the known communication types.
func (t CommunicationType) Valid() bool {
	switch t {
	case CommAbsence, CommPositive, CommSupport, CommCorrective:
		return true
	}
	return false
}

const dateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form.
type Date string

// ParseDate validates an ISO calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// AddDays shifts the date by n days.
func (d Date) AddDays(n int) Date {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

func (d Date) String() string { return string(d) }

// Student is identified by the school-assigned enrollment id.
type Student struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	ClassIDs []string `json:"class_ids"`
}

// EnrolledIn reports whether the student is enrolled in classID.
func (s Student) EnrolledIn(classID string) bool {
	for _, id := range s.ClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}

// Class is a teacher-owned group of students.
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TeacherID string    `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the attendance of one student in one class on one day.
type Record struct {
	ID                  string              `json:"id"`
	StudentID           string              `json:"student_id"`
	ClassID             string              `json:"class_id"`
	Date                Date                `json:"date"`
	Status              Status              `json:"status"`
	Justification       string              `json:"justification,omitempty"`
	JustificationStatus JustificationStatus `json:"justification_status,omitempty"`
}

// RecordID derives the identity of the record for a student, class and day.
// At most one record can exist per triple.
func RecordID(studentID, classID string, date Date) string {
	return "att-" + studentID + "-" + classID + "-" + string(date)
}

// Teacher is the profile of the logged-in teacher.
type Teacher struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Sector   string `json:"sector"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// TeacherUpdate holds the profile fields to change; nil fields are kept.
type TeacherUpdate struct {
	Name     *string
	Email    *string
	Sector   *string
	PhotoURL *string
}

// CommunicationLog is an append-only record of a message sent to a student.
// Names are snapshots taken when the log was written.
type CommunicationLog struct {
	ID          string            `json:"id"`
	StudentID   string            `json:"student_id"`
	StudentName string            `json:"student_name"`
	ClassID     string            `json:"class_id"`
	ClassName   string            `json:"class_name"`
	Type        CommunicationType `json:"type"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	StudentID string
	ClassID   string
	Date      Date
	Since     Date
}

func (f RecordFilter) match(r Record) bool {
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	if f.ClassID != "" && r.ClassID != f.ClassID {
		return false
	}
	if f.Date != "" && r.Date != f.Date {
		return false
	}
	if f.Since != "" && r.Date < f.Since {
		return false
	}
	return true
}

// DefaultTeacherID owns the seed classes.
const DefaultTeacherID = "t1"

// DefaultTeacher is the profile used until a teacher registers one.
func DefaultTeacher(email string) Teacher {
	return Teacher{ID: DefaultTeacherID, Name: "Professor Exemplo", Email: email, Sector: "Educação"}
}

// SeedClasses returns the classes a fresh store starts with.
func SeedClasses(now time.Time) []Class {
	return []Class{
		{ID: "c1", Name: "Desenvolvimento Frontend com React", TeacherID: DefaultTeacherID, CreatedAt: now.Add(-200 * time.Second)},
		{ID: "c2", Name: "Algoritmos e Estrutura de Dados", TeacherID: DefaultTeacherID, CreatedAt: now.Add(-100 * time.Second)},
		{ID: "c3", Name: "Inteligência Artificial Aplicada", TeacherID: DefaultTeacherID, CreatedAt: now},
	}
}
