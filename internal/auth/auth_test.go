package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigner = Signer{Issuer: "classattend", Key: "test-key", AccessTTL: time.Minute, RefreshTTL: time.Hour}

func TestIssueParse(t *testing.T) {
	pair, err := testSigner.Issue("s1", RoleStudent)
	require.NoError(t, err)

	claims, err := testSigner.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))
}

func TestParseRejects(t *testing.T) {
	pair, err := testSigner.Issue("t1", RoleTeacher)
	require.NoError(t, err)

	other := testSigner
	other.Key = "another-key"
	_, err = other.Parse(pair.AccessToken)
	assert.Error(t, err)

	other = testSigner
	other.Issuer = "someone-else"
	_, err = other.Parse(pair.AccessToken)
	assert.Error(t, err)

	expired := testSigner
	expired.AccessTTL = -time.Minute
	pair, err = expired.Issue("t1", RoleTeacher)
	require.NoError(t, err)
	_, err = testSigner.Parse(pair.AccessToken)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/teacher", Bearer(testSigner), RequireRole(RoleTeacher), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	teacher, err := testSigner.Issue("t1", RoleTeacher)
	require.NoError(t, err)
	student, err := testSigner.Issue("s1", RoleStudent)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no token", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + student.AccessToken, want: http.StatusForbidden},
		{name: "teacher", header: "Bearer " + teacher.AccessToken, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teacher", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
