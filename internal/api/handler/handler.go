// Package handler implements the dashboard API routes. Each handler group
// depends on the narrowest interface it needs so tests can stub it.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/store"
)

const maxBodyBytes = 1 << 20

// StatsCache caches computed aggregates. A nil StatsCache disables caching.
type StatsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}

func invalidBody(w http.ResponseWriter) {
	response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
}

func invalidField(w http.ResponseWriter, field, msg string) {
	response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, msg, map[string]string{field: msg})
}

// pathID parses a positive integer URL parameter. It writes the 400 itself.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		invalidField(w, name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryInt returns def when the parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// storeError maps store sentinels to responses. what names the resource in
// the 404 message.
func storeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, what+" not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, response.CodeConflict, what+" already exists", nil)
	case errors.Is(err, store.ErrScheduleInPast):
		invalidField(w, "scheduled_at", err.Error())
	default:
		internalError(w, r, err, fmt.Sprintf("Failed to process %s", what))
	}
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	slog.Error(msg, "method", r.Method, "path", r.URL.Path, "error", err)
	response.Error(w, http.StatusInternalServerError, response.CodeInternal, msg, nil)
}

// cachedJSON serves key from c when present. Otherwise it calls load, caches
// the result for ttl and returns it. Cache failures only cost a recompute.
func cachedJSON[T any](ctx context.Context, c StatsCache, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if c != nil {
		if raw, ok, err := c.Get(ctx, key); err == nil && ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		} else if err != nil {
			slog.Warn("stats cache read failed", "key", key, "error", err)
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if c != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := c.Set(ctx, key, raw, ttl); err != nil {
				slog.Warn("stats cache write failed", "key", key, "error", err)
			}
		}
	}
	return v, nil
}

func invalidate(ctx context.Context, c StatsCache, keys ...string) {
	if c == nil {
		return
	}
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			slog.Warn("stats cache invalidation failed", "key", key, "error", err)
		}
	}
}
