package session

import (
	"context"
	"errors"

	"classattend/internal/attendance"
)

// DeepLink asks for attendance in a class on a day.
type DeepLink struct {
	ClassID string `form:"classId" json:"class_id"`
	Date    string `form:"date" json:"date"`
}

// Empty reports whether the link carries no parameters.
func (l DeepLink) Empty() bool { return l.ClassID == "" && l.Date == "" }

// Outcome types of a consumed link.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// LinkOutcome tells the client what happened. Consumed means the client must
// drop the link parameters.
type LinkOutcome struct {
	Consumed bool               `json:"consumed"`
	Type     string             `json:"type,omitempty"`
	Message  string             `json:"message,omitempty"`
	Record   *attendance.Record `json:"record,omitempty"`
}

// ConsumeLink marks the student present when the link points at today and
// the student is enrolled. Links for other days are ignored.
func (m *Manager) ConsumeLink(ctx context.Context, studentID string, link DeepLink) LinkOutcome {
	if link.ClassID == "" || link.Date == "" {
		return LinkOutcome{}
	}
	date, err := attendance.ParseDate(link.Date)
	if err != nil || date != m.att.Today() {
		return LinkOutcome{}
	}

	rec, err := m.att.MarkPresent(ctx, studentID, link.ClassID)
	switch {
	case err == nil:
		m.log.Info("deep link attendance recorded", "student_id", studentID, "class_id", link.ClassID)
		return LinkOutcome{Consumed: true, Type: OutcomeSuccess, Message: "Attendance registered successfully!", Record: &rec}
	case errors.Is(err, attendance.ErrAlreadyMarked):
		return LinkOutcome{Consumed: true, Type: OutcomeError, Message: "Your attendance for this class was already registered today."}
	case errors.Is(err, attendance.ErrNotEnrolled), errors.Is(err, attendance.ErrNotFound):
		return LinkOutcome{Consumed: true, Type: OutcomeError, Message: "You are not enrolled in the linked class."}
	default:
		m.log.Error("deep link attendance failed", "student_id", studentID, "class_id", link.ClassID, "error", err)
		return LinkOutcome{Consumed: true, Type: OutcomeError, Message: "Could not register attendance from the link."}
	}
}
