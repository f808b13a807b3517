package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"medsupply/internal/apperr"
	"medsupply/internal/metrics"
	"medsupply/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeUsers map[string]model.User

func (f fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if id == "broken" {
		return nil, apperr.Transient(io.ErrUnexpectedEOF, "lookup")
	}
	u, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}

func testUsers() fakeUsers {
	return fakeUsers{
		"admin-1": {ID: "admin-1", Role: model.RoleAdmin, Status: model.UserApproved},
		"hosp-1":  {ID: "hosp-1", Role: model.RoleHospital, Status: model.UserApproved},
		"hosp-2":  {ID: "hosp-2", Role: model.RoleHospital, Status: model.UserBlocked},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		u, _ := Principal(c)
		c.String(http.StatusOK, u.ID)
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth(testUsers()))

	tests := []struct {
		name   string
		userID string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"unknown user", "nobody", http.StatusUnauthorized},
		{"blocked hospital", "hosp-2", http.StatusForbidden},
		{"lookup failure", "broken", http.StatusServiceUnavailable},
		{"ok", "hosp-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.userID)
			assert.Equal(t, tt.status, w.Code)
		})
	}
	assert.Equal(t, "hosp-1", do(r, "hosp-1").Body.String())
}

func TestRoleGates(t *testing.T) {
	admin := newEngine(Auth(testUsers()), RequireAdmin())
	assert.Equal(t, http.StatusOK, do(admin, "admin-1").Code)
	assert.Equal(t, http.StatusForbidden, do(admin, "hosp-1").Code)

	hosp := newEngine(Auth(testUsers()), RequireHospital())
	assert.Equal(t, http.StatusOK, do(hosp, "hosp-1").Code)
	assert.Equal(t, http.StatusForbidden, do(hosp, "admin-1").Code)

	// 没有 Auth 时一律拒绝
	assert.Equal(t, http.StatusForbidden, do(newEngine(RequireAdmin()), "admin-1").Code)
}

func TestRateLimit_RedisDownAllows(t *testing.T) {
	rdb := rd.NewClient(&rd.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	m := metrics.NewRegistry()
	r := newEngine(Auth(testUsers()), RedisRateLimit(rdb, 1, time.Minute, quietLogger(), m))

	assert.Equal(t, http.StatusOK, do(r, "hosp-1").Code)
	assert.Equal(t, http.StatusOK, do(r, "hosp-1").Code)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RateLimited))
}

func TestRateLimit_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := rd.NewClient(&rd.Options{Addr: addr})
	defer rdb.Close()

	id := uuid.NewString()
	users := fakeUsers{id: {ID: id, Role: model.RoleHospital, Status: model.UserApproved}}
	m := metrics.NewRegistry()
	r := newEngine(Auth(users), RedisRateLimit(rdb, 2, time.Minute, quietLogger(), m))

	require.Equal(t, http.StatusOK, do(r, id).Code)
	require.Equal(t, http.StatusOK, do(r, id).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, id).Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimited))
}
