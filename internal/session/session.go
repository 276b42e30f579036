// Package session authenticates teachers and students, issues their tokens
// and consumes attendance deep links.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

// Auth failures. Both match attendance.ErrAuth.
var (
	ErrUnknownEmail  = fmt.Errorf("%w: email not registered", attendance.ErrAuth)
	ErrWrongPassword = fmt.Errorf("%w: incorrect password", attendance.ErrAuth)
)

// Manager owns credentials and session establishment.
type Manager struct {
	att    *attendance.Service
	signer auth.Signer
	log    *slog.Logger

	teacherEmail string
	teacherHash  []byte
	cost         int
}

// Config holds the teacher credential and token settings.
type Config struct {
	TeacherEmail    string
	TeacherPassword string
	Signer          auth.Signer
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// NewManager hashes the configured teacher password once at startup.
func NewManager(att *attendance.Service, cfg Config, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.TeacherPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash teacher password: %w", err)
	}
	return &Manager{
		att:          att,
		signer:       cfg.Signer,
		log:          log,
		teacherEmail: strings.ToLower(strings.TrimSpace(cfg.TeacherEmail)),
		teacherHash:  hash,
		cost:         cost,
	}, nil
}

// Session is the result of a successful login or registration.
type Session struct {
	Role     string              `json:"role"`
	Tokens   auth.TokenPair      `json:"tokens"`
	Teacher  *attendance.Teacher `json:"teacher,omitempty"`
	Student  *attendance.Student `json:"student,omitempty"`
	DeepLink *LinkOutcome        `json:"deep_link,omitempty"`
}

// TeacherLogin checks the configured teacher credential. The email may be the
// configured one or the one on the current profile, matched case-insensitively.
func (m *Manager) TeacherLogin(ctx context.Context, email, password string) (Session, error) {
	if err := requireFields("email", email, "password", password); err != nil {
		return Session{}, err
	}
	t, err := m.att.Teacher(ctx)
	if err != nil {
		return Session{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email != m.teacherEmail && email != strings.ToLower(t.Email) {
		return Session{}, ErrUnknownEmail
	}
	if bcrypt.CompareHashAndPassword(m.teacherHash, []byte(password)) != nil {
		return Session{}, ErrWrongPassword
	}
	return m.teacherSession(t)
}

// Profile values used when teacher registration leaves them blank.
const (
	DefaultTeacherName   = "Professor Exemplo"
	DefaultTeacherSector = "Educação"
)

// TeacherRegistration is the profile submitted on teacher sign-up. Password
// must be the configured teacher password.
type TeacherRegistration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Sector   string `json:"sector"`
	Password string `json:"password"`
}

// RegisterTeacher overwrites the singleton teacher profile and opens a session.
// Blank name and sector fall back to the defaults.
func (m *Manager) RegisterTeacher(ctx context.Context, r TeacherRegistration) (Session, error) {
	if err := requireFields("email", r.Email, "password", r.Password); err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword(m.teacherHash, []byte(r.Password)) != nil {
		return Session{}, ErrWrongPassword
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = DefaultTeacherName
	}
	sector := strings.TrimSpace(r.Sector)
	if sector == "" {
		sector = DefaultTeacherSector
	}
	email := strings.TrimSpace(r.Email)
	t, err := m.att.UpdateTeacherProfile(ctx, attendance.TeacherUpdate{
		Name:   &name,
		Email:  &email,
		Sector: &sector,
	})
	if err != nil {
		return Session{}, err
	}
	m.log.Info("teacher profile registered", "teacher_id", t.ID)
	return m.teacherSession(t)
}

func (m *Manager) teacherSession(t attendance.Teacher) (Session, error) {
	tokens, err := m.signer.Issue(t.ID, auth.RoleTeacher)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Role: auth.RoleTeacher, Tokens: tokens, Teacher: &t}, nil
}

// StudentRegistration is the payload submitted on student sign-up.
type StudentRegistration struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	ClassIDs []string `json:"class_ids"`
}

// RegisterStudent creates the student, stores a bcrypt hash of the password
// and consumes the deep link, if any.
func (m *Manager) RegisterStudent(ctx context.Context, r StudentRegistration, link *DeepLink) (Session, error) {
	if err := requireFields("id", r.ID, "name", r.Name, "email", r.Email, "password", r.Password); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), m.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	st, err := m.att.AddStudent(ctx, attendance.Student{
		ID:       strings.TrimSpace(r.ID),
		Name:     strings.TrimSpace(r.Name),
		Email:    strings.ToLower(strings.TrimSpace(r.Email)),
		ClassIDs: r.ClassIDs,
	}, string(hash))
	if err != nil {
		return Session{}, err
	}
	return m.studentSession(ctx, st, link)
}

// StudentLogin checks a student's credential and consumes the deep link, if any.
func (m *Manager) StudentLogin(ctx context.Context, email, password string, link *DeepLink) (Session, error) {
	if err := requireFields("email", email, "password", password); err != nil {
		return Session{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := m.att.Store().PasswordHash(ctx, email)
	if errors.Is(err, attendance.ErrNotFound) {
		return Session{}, ErrUnknownEmail
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Session{}, ErrWrongPassword
	}
	st, err := m.att.Store().StudentByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	return m.studentSession(ctx, st, link)
}

func (m *Manager) studentSession(ctx context.Context, st attendance.Student, link *DeepLink) (Session, error) {
	tokens, err := m.signer.Issue(st.ID, auth.RoleStudent)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s := Session{Role: auth.RoleStudent, Tokens: tokens, Student: &st}
	if link != nil {
		if out := m.ConsumeLink(ctx, st.ID, *link); out.Consumed {
			s.DeepLink = &out
		}
	}
	return s, nil
}

// requireFields takes name/value pairs and fails on the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &attendance.ValidationError{Field: pairs[i], Message: "this field is required"}
		}
	}
	return nil
}
