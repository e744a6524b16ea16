package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/records/internal/config"
	"github.com/clinic/records/internal/domain/patient"
	"github.com/clinic/records/internal/platform/auth"
	"github.com/clinic/records/internal/platform/db"
	"github.com/clinic/records/internal/platform/metrics"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// emptyRepo is a store with no patients in it.
type emptyRepo struct{}

func (emptyRepo) Create(context.Context, *patient.Patient) error { return nil }

func (emptyRepo) GetByID(context.Context, uuid.UUID) (*patient.Patient, error) {
	return nil, patient.ErrNotFound
}

func (emptyRepo) LatestPatientID(context.Context, string) (string, error) { return "", nil }

func (emptyRepo) Search(context.Context, string, int, int) ([]*patient.Patient, error) {
	return nil, nil
}

func (emptyRepo) Save(context.Context, *patient.Patient) error { return patient.ErrNotFound }

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            env,
		StoreDriver:    config.DriverPostgres,
		AuthSigningKey: testSigningKey,
		CORSOrigins:    []string{"http://localhost:3000"},
		MaxUploadSize:  1 << 20,
		SearchLimit:    50,
		RequestTimeout: 5 * time.Second,
	}
}

func newTestServer(t *testing.T, env string, ping func(context.Context) error) *echo.Echo {
	t.Helper()
	logger := zerolog.Nop()
	revocations := auth.NewMemoryRevocationStore()
	t.Cleanup(revocations.Close)

	m := metrics.New()
	svc := patient.NewService(emptyRepo{}, logger)
	svc.SetMetrics(m)

	return newServer(serverDeps{
		cfg:         testConfig(env),
		logger:      logger,
		service:     svc,
		pinger:      db.Pinger{Driver: "stub", Ping: ping},
		revocations: revocations,
		metrics:     m,
	})
}

func okPing(context.Context) error { return nil }

func serve(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, jti string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_PublicEndpoints(t *testing.T) {
	e := newTestServer(t, "production", okPing)

	rec := serve(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(e, http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "records_http_requests_total")
}

func TestServer_StoreDown(t *testing.T) {
	e := newTestServer(t, "production", func(context.Context) error {
		return errors.New("connection refused")
	})

	rec := serve(e, http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RequiresToken(t *testing.T) {
	e := newTestServer(t, "production", okPing)

	rec := serve(e, http.MethodGet, "/api/v1/patients", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["kind"])

	rec = serve(e, http.MethodGet, "/api/v1/patients", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/api/v1/patients", signToken(t, "t-1", auth.RoleStaff))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = serve(e, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `records_record_access_total{action="read",resource="patients"}`)
}

func TestServer_RoleEnforcement(t *testing.T) {
	e := newTestServer(t, "production", okPing)
	token := signToken(t, "t-2", auth.RoleStaff)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec)["kind"])
}

func TestServer_RevokedTokenRejected(t *testing.T) {
	e := newTestServer(t, "production", okPing)
	token := signToken(t, "t-3", auth.RoleClinic)

	rec := serve(e, http.MethodPost, "/api/v1/session/revoke", token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/api/v1/session", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_DevIdentity(t *testing.T) {
	e := newTestServer(t, "development", okPing)

	rec := serve(e, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := decode(t, rec)["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, auth.DevIdentity.UserID, data["userId"])

	rec = serve(e, http.MethodGet, "/api/v1/patients/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["kind"])
}

func TestUploadBodyLimit(t *testing.T) {
	assert.Equal(t, int64(10<<20+(10<<20)/3+1<<20), uploadBodyLimit(10<<20))
}

func TestMigrationSource(t *testing.T) {
	embedded, err := db.NewMigrator(nil, migrationSource("")).LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, embedded)
	assert.Equal(t, 1, embedded[0].Version)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "007_custom.sql"), []byte("SELECT 1;"), 0o600))
	custom, err := db.NewMigrator(nil, migrationSource(dir)).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, 7, custom[0].Version)
	assert.Equal(t, "007_custom.sql", custom[0].Name)
}
