package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"classattend/internal/assistant"
	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"
	"classattend/internal/session"
)

var now = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string) (string, error) { return "texto gerado", nil }

type stubPhotos struct{}

func (stubPhotos) Configured() bool { return true }
func (stubPhotos) UploadBytes(context.Context, []byte, string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{SecureURL: "https://cdn.test/bytes.jpg"}, nil
}
func (stubPhotos) UploadBase64(context.Context, string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{SecureURL: "https://cdn.test/b64.jpg"}, nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	svc    *attendance.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := attendance.NewMemoryStore(attendance.DefaultTeacher("professor@exemplo.com"), attendance.SeedClasses(now))
	svc := attendance.NewService(store, attendance.WithClock(func() time.Time { return now }))
	signer := auth.Signer{Issuer: "test", Key: "k", AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour}
	sessions, err := session.NewManager(svc, session.Config{
		TeacherEmail:    "professor@exemplo.com",
		TeacherPassword: "senha123",
		Signer:          signer,
		BcryptCost:      bcrypt.MinCost,
	}, nil)
	require.NoError(t, err)

	r := NewRouter(Deps{
		Service:   svc,
		Sessions:  sessions,
		Assistant: assistant.New(svc, stubGenerator{}, time.Second, nil),
		Signer:    signer,
		Photos:    stubPhotos{},
		Checks:    map[string]func(context.Context) bool{"store": func(context.Context) bool { return true }},
	})
	return &testServer{t: t, router: r, svc: svc}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (s *testServer) teacherToken() string {
	w := s.do(http.MethodPost, "/v1/teacher/login", "", gin.H{"email": "professor@exemplo.com", "password": "senha123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode[session.Session](s.t, w).Tokens.AccessToken
}

func (s *testServer) registerStudent(id, query string, classIDs ...string) session.Session {
	w := s.do(http.MethodPost, "/v1/students/register"+query, "", gin.H{
		"id": id, "name": "Aluno " + id, "email": id + "@aluno.test", "password": "pw", "class_ids": classIDs,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session.Session](s.t, w)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":true`)
}

func TestRegisterDeepLinkThenMark(t *testing.T) {
	s := newTestServer(t)

	sess := s.registerStudent("2024001", "?classId=c1&date=2026-03-02", "c1", "c2")
	require.NotNil(t, sess.DeepLink)
	assert.Equal(t, session.OutcomeSuccess, sess.DeepLink.Type)
	token := sess.Tokens.AccessToken

	w := s.do(http.MethodPost, "/v1/me/attendance/c1", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/me/attendance/c2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.StatusPresent, decode[attendance.Record](t, w).Status)

	w = s.do(http.MethodPost, "/v1/me/attendance/c3", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, "/v1/me/streak", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"streak":1}`, w.Body.String())
}

func TestDeepLinkNotEnrolledOnLogin(t *testing.T) {
	s := newTestServer(t)
	s.registerStudent("2024001", "", "c1")

	w := s.do(http.MethodPost, "/v1/students/login?classId=c2&date=2026-03-02", "", gin.H{"email": "2024001@aluno.test", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[session.Session](t, w)
	require.NotNil(t, sess.DeepLink)
	assert.True(t, sess.DeepLink.Consumed)
	assert.Equal(t, session.OutcomeError, sess.DeepLink.Type)

	w = s.do(http.MethodPost, "/v1/students/login", "", gin.H{"email": "2024001@aluno.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistrationErrors(t *testing.T) {
	s := newTestServer(t)
	s.registerStudent("2024001", "", "c1")

	w := s.do(http.MethodPost, "/v1/students/register", "", gin.H{
		"id": "2024001", "name": "X", "email": "x@aluno.test", "password": "pw", "class_ids": []string{"c1"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	byID := w.Body.String()

	w = s.do(http.MethodPost, "/v1/students/register", "", gin.H{
		"id": "2024002", "name": "X", "email": "2024001@aluno.test", "password": "pw", "class_ids": []string{"c1"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NotEqual(t, byID, w.Body.String())

	w = s.do(http.MethodPost, "/v1/students/register", "", gin.H{
		"id": "2024003", "name": "X", "email": "y@aluno.test", "password": "pw", "class_ids": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoles(t *testing.T) {
	s := newTestServer(t)
	student := s.registerStudent("2024001", "", "c1").Tokens.AccessToken

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/classes", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/classes", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/me", s.teacherToken(), nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/classes/public", "", nil).Code)
}

func TestTeacherRegisterRequiresCredential(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/teacher/register", "", gin.H{"email": "x@evil.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "access_token")

	w = s.do(http.MethodPost, "/v1/teacher/register", "", gin.H{"email": "x@evil.test", "password": "guess"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "access_token")

	w = s.do(http.MethodGet, "/v1/teacher/profile", s.teacherToken(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "x@evil.test", decode[attendance.Teacher](t, w).Email)

	w = s.do(http.MethodPost, "/v1/teacher/register", "", gin.H{"email": "nova@escola.test", "password": "senha123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sess := decode[session.Session](t, w)
	assert.Equal(t, auth.RoleTeacher, sess.Role)
	assert.Equal(t, "Professor Exemplo", sess.Teacher.Name)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/classes", sess.Tokens.AccessToken, nil).Code)
}

func TestTeacherAttendanceFlow(t *testing.T) {
	s := newTestServer(t)
	student := s.registerStudent("2024001", "", "c1").Tokens.AccessToken
	teacher := s.teacherToken()

	w := s.do(http.MethodPut, "/v1/attendance", teacher, gin.H{
		"student_id": "2024001", "class_id": "c1", "date": "2026-03-01", "status": "present",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/v1/attendance", teacher, gin.H{
		"student_id": "2024001", "class_id": "c1", "date": "2026-03-01", "status": "justified_absent",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	recordID := attendance.RecordID("2024001", "c1", "2026-03-02")
	w = s.do(http.MethodPost, "/v1/me/justifications", student, gin.H{"record_id": recordID, "justification": "consulta médica"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, attendance.JustificationPending, decode[attendance.Record](t, w).JustificationStatus)

	w = s.do(http.MethodPost, "/v1/justifications/"+recordID+"/decision", teacher, gin.H{"decision": "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.StatusJustifiedAbsent, decode[attendance.Record](t, w).Status)

	w = s.do(http.MethodPost, "/v1/justifications/att-missing/decision", teacher, gin.H{"decision": "approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/v1/classes/c1/stats?date=2026-03-02", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[attendance.DailyStats](t, w)
	assert.Equal(t, 100, stats.Rate)

	w = s.do(http.MethodGet, "/v1/classes/c1/history", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct {
		History []attendance.DayRate `json:"history"`
	}](t, w)
	require.Len(t, hist.History, 2)
	assert.Equal(t, attendance.Date("2026-03-01"), hist.History[0].Date)

	w = s.do(http.MethodGet, "/v1/classes/c1/export?date=2026-03-02", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matricula":"2024001"`)

	w = s.do(http.MethodGet, "/v1/classes/c1/stats?date=yesterday", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentCannotJustifyOthers(t *testing.T) {
	s := newTestServer(t)
	s.registerStudent("2024001", "", "c1")
	other := s.registerStudent("2024002", "", "c1").Tokens.AccessToken

	w := s.do(http.MethodPost, "/v1/me/justifications", other, gin.H{
		"record_id": attendance.RecordID("2024001", "c1", "2026-03-02"), "justification": "x",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClassLifecycle(t *testing.T) {
	s := newTestServer(t)
	teacher := s.teacherToken()

	w := s.do(http.MethodPost, "/v1/classes", teacher, gin.H{"name": "Redes"})
	require.Equal(t, http.StatusCreated, w.Code)
	cl := decode[attendance.Class](t, w)

	w = s.do(http.MethodPatch, "/v1/classes/"+cl.ID, teacher, gin.H{"name": "Redes de Computadores"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/v1/classes?q=redes", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Redes de Computadores")

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/classes/"+cl.ID, teacher, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/v1/classes/"+cl.ID, teacher, nil).Code)
}

func TestCommunicationsAndAssistant(t *testing.T) {
	s := newTestServer(t)
	s.registerStudent("2024001", "", "c1")
	teacher := s.teacherToken()

	w := s.do(http.MethodPost, "/v1/communications/draft", teacher, gin.H{"student_id": "2024001", "class_id": "c1", "type": "support"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"content":"texto gerado"}`, w.Body.String())

	w = s.do(http.MethodPost, "/v1/communications", teacher, gin.H{"student_id": "2024001", "class_id": "c1", "type": "support", "content": "Olá"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/v1/students/2024001/profile", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[attendance.StudentProfile](t, w)
	require.Len(t, profile.Communications, 1)
	assert.Equal(t, "Desenvolvimento Frontend com React", profile.Communications[0].ClassName)

	w = s.do(http.MethodPost, "/v1/assistant/compare", teacher, gin.H{"class_ids": []string{"c1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duas turmas")

	w = s.do(http.MethodPost, "/v1/assistant/summary", teacher, gin.H{"class_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeacherPhoto(t *testing.T) {
	s := newTestServer(t)
	teacher := s.teacherToken()

	w := s.do(http.MethodPut, "/v1/teacher/photo", teacher, gin.H{"data": "data:image/png;base64,AA=="})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://cdn.test/b64.jpg", decode[attendance.Teacher](t, w).PhotoURL)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&attendance.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{session.ErrWrongPassword, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", attendance.ErrNotFound), http.StatusNotFound},
		{attendance.ErrDuplicateEmail, http.StatusConflict},
		{attendance.ErrAlreadyMarked, http.StatusConflict},
		{attendance.ErrNotEnrolled, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
