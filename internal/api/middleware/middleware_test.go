package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autolister/internal/api/middleware"
	"github.com/kiranshivaraju/autolister/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock key store ---

type mockKeys struct {
	keys    []*models.APIKey
	err     error
	touched atomic.Int32
}

func (m *mockKeys) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}

func (m *mockKeys) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error {
	m.touched.Add(1)
	return nil
}

// --- Mock counter ---

type mockCounter struct {
	counter int64
	err     error
	lastKey string
}

func (m *mockCounter) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.counter++
	m.lastKey = key
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func keyWithScopes(t *testing.T, rawKey string, scopes ...string) *models.APIKey {
	t.Helper()
	return &models.APIKey{
		ID:        uuid.New(),
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func authed(rawKey string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	return req
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockKeys{})
	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockKeys{})
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(&mockKeys{})
	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, authed("short"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key format", errBody(t, w)["message"])
}

func TestAuth_LookupError(t *testing.T) {
	auth := mw.NewAuth(&mockKeys{err: errors.New("db down")})
	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, authed("al_test1234567890"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockKeys{keys: []*models.APIKey{}})
	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, authed("al_test1234567890"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_WrongSecret(t *testing.T) {
	rawKey := "al_test1234567890abcdef"
	stored := keyWithScopes(t, "al_test1_different_secret", models.ScopeRead)
	auth := mw.NewAuth(&mockKeys{keys: []*models.APIKey{stored}})

	w := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(w, authed(rawKey))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKeySetsContext(t *testing.T) {
	rawKey := "al_test1234567890abcdef"
	key := keyWithScopes(t, rawKey, models.ScopeRead, models.ScopeWrite)
	keys := &mockKeys{keys: []*models.APIKey{key}}
	auth := mw.NewAuth(keys)

	var gotID uuid.UUID
	var gotPrefix string
	var gotScopes []string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = mw.KeyID(r)
		gotPrefix, _ = mw.KeyPrefix(r)
		gotScopes = mw.Scopes(r)
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	auth.Authenticate(inner).ServeHTTP(w, authed(rawKey))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, key.ID, gotID)
	assert.Equal(t, "al_test1", gotPrefix)
	assert.Equal(t, []string{"read", "write"}, gotScopes)
	assert.Eventually(t, func() bool { return keys.touched.Load() == 1 },
		time.Second, 10*time.Millisecond, "last_used_at is touched")
}

func TestAuth_RequireScope(t *testing.T) {
	tests := []struct {
		name     string
		scopes   []string
		required string
		want     int
	}{
		{"exact scope", []string{"read"}, "read", http.StatusOK},
		{"missing scope", []string{"read"}, "write", http.StatusForbidden},
		{"admin implies write", []string{"admin"}, "write", http.StatusOK},
		{"admin required", []string{"read", "write"}, "admin", http.StatusForbidden},
		{"no scopes", nil, "read", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rawKey := "al_scope1234567890abcdef"
			auth := mw.NewAuth(&mockKeys{keys: []*models.APIKey{keyWithScopes(t, rawKey, tt.scopes...)}})
			handler := auth.Authenticate(auth.RequireScope(tt.required)(okHandler()))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, authed(rawKey))

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
			}
		})
	}
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func withPrefix(prefix string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	return req.WithContext(mw.WithKeyPrefix(req.Context(), prefix))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCounter{}
	rl := mw.NewRateLimit(mc, 60)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, withPrefix("al_test1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "autolister:ratelimit:al_test1", mc.lastKey)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCounter{counter: 60}
	rl := mw.NewRateLimit(mc, 60)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, withPrefix("al_over1"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mc := &mockCounter{err: errors.New("redis down")}
	rl := mw.NewRateLimit(mc, 1)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, withPrefix("al_test1"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_DefaultLimit(t *testing.T) {
	rl := mw.NewRateLimit(&mockCounter{}, 0)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, withPrefix("al_test1"))

	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_NoKeyPrefix_PassThrough(t *testing.T) {
	mc := &mockCounter{}
	rl := mw.NewRateLimit(mc, 60)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, mc.counter)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	w := httptest.NewRecorder()
	mw.Recovery(panicking).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	w := httptest.NewRecorder()
	mw.Recovery(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery_PassesAbortHandlerThrough(t *testing.T) {
	aborting := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		mw.Recovery(aborting).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
	})
}

func TestRecovery_LogsKeyPrefix(t *testing.T) {
	logs := captureLogs(t)
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req = req.WithContext(mw.WithKeyPrefix(req.Context(), "al_abcde"))
	mw.Recovery(panicking).ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "handler panicked", line["msg"])
	assert.Equal(t, "boom", line["panic"])
	assert.Equal(t, "al_abcde", line["key_prefix"])
}

// ========================================
// Logging Middleware Tests
// ========================================

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_RecordsStatusAndPrefix(t *testing.T) {
	logs := captureLogs(t)

	rawKey := "al_logs1234567890abcdef"
	auth := mw.NewAuth(&mockKeys{keys: []*models.APIKey{keyWithScopes(t, rawKey, models.ScopeRead)}})
	teapot := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := mw.Logger(auth.Authenticate(teapot))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authed(rawKey))

	assert.Equal(t, http.StatusTeapot, w.Code)
	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.Equal(t, "al_logs1", line["key_prefix"])
}

func TestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	logs := captureLogs(t)
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	mw.Logger(failing).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.NotContains(t, line, "key_prefix")
}
