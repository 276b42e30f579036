package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

var now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newManager(t *testing.T) (*Manager, *attendance.Service) {
	t.Helper()
	store := attendance.NewMemoryStore(attendance.DefaultTeacher("professor@exemplo.com"), attendance.SeedClasses(now))
	svc := attendance.NewService(store, attendance.WithClock(func() time.Time { return now }))
	m, err := NewManager(svc, Config{
		TeacherEmail:    "professor@exemplo.com",
		TeacherPassword: "senha123",
		Signer:          auth.Signer{Issuer: "test", Key: "k", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		BcryptCost:      bcrypt.MinCost,
	}, nil)
	require.NoError(t, err)
	return m, svc
}

func register(t *testing.T, m *Manager, id string, link *DeepLink, classIDs ...string) Session {
	t.Helper()
	s, err := m.RegisterStudent(context.Background(), StudentRegistration{
		ID:       id,
		Name:     "Aluno " + id,
		Email:    id + "@aluno.test",
		Password: "pw-" + id,
		ClassIDs: classIDs,
	}, link)
	require.NoError(t, err)
	return s
}

func TestTeacherLogin(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	s, err := m.TeacherLogin(ctx, "PROFESSOR@exemplo.com", "senha123")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, s.Role)
	require.NotNil(t, s.Teacher)
	assert.NotEmpty(t, s.Tokens.AccessToken)

	_, err = m.TeacherLogin(ctx, "other@exemplo.com", "senha123")
	assert.ErrorIs(t, err, ErrUnknownEmail)
	_, err = m.TeacherLogin(ctx, "professor@exemplo.com", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.ErrorIs(t, err, attendance.ErrAuth)
	_, err = m.TeacherLogin(ctx, "", "senha123")
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestRegisterTeacher(t *testing.T) {
	m, svc := newManager(t)
	ctx := context.Background()

	s, err := m.RegisterTeacher(ctx, TeacherRegistration{Name: "Ana", Email: "ana@escola.test", Sector: "TI", Password: "senha123"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, s.Role)
	assert.Equal(t, "Ana", s.Teacher.Name)

	tch, err := svc.Teacher(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@escola.test", tch.Email)

	// the registered email now logs in too
	_, err = m.TeacherLogin(ctx, "ANA@escola.test", "senha123")
	require.NoError(t, err)

	_, err = m.RegisterTeacher(ctx, TeacherRegistration{Name: "Ana", Password: "senha123"})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestRegisterTeacherDefaults(t *testing.T) {
	m, _ := newManager(t)
	s, err := m.RegisterTeacher(context.Background(), TeacherRegistration{Email: "novo@escola.test", Password: "senha123"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTeacherName, s.Teacher.Name)
	assert.Equal(t, DefaultTeacherSector, s.Teacher.Sector)
}

func TestRegisterTeacherNeedsPassword(t *testing.T) {
	m, svc := newManager(t)
	ctx := context.Background()
	before, err := svc.Teacher(ctx)
	require.NoError(t, err)

	_, err = m.RegisterTeacher(ctx, TeacherRegistration{Name: "Intruso", Email: "x@evil.test", Password: "guess"})
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, err = m.RegisterTeacher(ctx, TeacherRegistration{Name: "Intruso", Email: "x@evil.test"})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	after, err := svc.Teacher(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStudentRegisterAndLogin(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s := register(t, m, "2024001", nil, "c1")
	assert.Equal(t, auth.RoleStudent, s.Role)
	assert.Nil(t, s.DeepLink)

	s, err := m.StudentLogin(ctx, "2024001@ALUNO.test", "pw-2024001", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024001", s.Student.ID)

	_, err = m.StudentLogin(ctx, "nobody@aluno.test", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownEmail)
	_, err = m.StudentLogin(ctx, "2024001@aluno.test", "x", nil)
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestStudentRegisterDuplicates(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	register(t, m, "2024001", nil, "c1")

	_, err := m.RegisterStudent(ctx, StudentRegistration{ID: "2024001", Name: "X", Email: "x@aluno.test", Password: "p", ClassIDs: []string{"c1"}}, nil)
	assert.ErrorIs(t, err, attendance.ErrDuplicateID)

	_, err = m.RegisterStudent(ctx, StudentRegistration{ID: "2024002", Name: "X", Email: "2024001@aluno.test", Password: "p", ClassIDs: []string{"c1"}}, nil)
	assert.ErrorIs(t, err, attendance.ErrDuplicateEmail)

	_, err = m.RegisterStudent(ctx, StudentRegistration{ID: "2024003", Name: "X", Email: "y@aluno.test", Password: "p"}, nil)
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = m.RegisterStudent(ctx, StudentRegistration{ID: "2024004", Name: "X", Email: "z@aluno.test", ClassIDs: []string{"c1"}}, nil)
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestDeepLinkEnrolledToday(t *testing.T) {
	m, svc := newManager(t)
	ctx := context.Background()

	s := register(t, m, "2024001", &DeepLink{ClassID: "c1", Date: "2026-03-02"}, "c1")
	require.NotNil(t, s.DeepLink)
	assert.True(t, s.DeepLink.Consumed)
	assert.Equal(t, OutcomeSuccess, s.DeepLink.Type)

	recs, err := svc.Records(ctx, attendance.RecordFilter{StudentID: "2024001", ClassID: "c1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, attendance.StatusPresent, recs[0].Status)

	s, err = m.StudentLogin(ctx, "2024001@aluno.test", "pw-2024001", &DeepLink{ClassID: "c1", Date: "2026-03-02"})
	require.NoError(t, err)
	require.NotNil(t, s.DeepLink)
	assert.True(t, s.DeepLink.Consumed)
	assert.Equal(t, OutcomeError, s.DeepLink.Type)
	assert.Contains(t, s.DeepLink.Message, "already")
	assert.Nil(t, s.DeepLink.Record)
}

func TestDeepLinkNotEnrolled(t *testing.T) {
	m, svc := newManager(t)
	ctx := context.Background()

	s := register(t, m, "2024001", &DeepLink{ClassID: "c2", Date: "2026-03-02"}, "c1")
	require.NotNil(t, s.DeepLink)
	assert.True(t, s.DeepLink.Consumed)
	assert.Equal(t, OutcomeError, s.DeepLink.Type)
	assert.Contains(t, s.DeepLink.Message, "not enrolled")

	recs, err := svc.Records(ctx, attendance.RecordFilter{ClassID: "c2"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDeepLinkIgnored(t *testing.T) {
	m, _ := newManager(t)
	tests := []struct {
		name string
		link DeepLink
	}{
		{name: "other day", link: DeepLink{ClassID: "c1", Date: "2026-03-01"}},
		{name: "bad date", link: DeepLink{ClassID: "c1", Date: "tomorrow"}},
		{name: "no class", link: DeepLink{Date: "2026-03-02"}},
	}
	register(t, m, "2024001", nil, "c1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := m.ConsumeLink(context.Background(), "2024001", tt.link)
			assert.False(t, out.Consumed)
		})
	}
}
