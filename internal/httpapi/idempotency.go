package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/cache"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/middleware"
	"marketplace-be/internal/transport"
	"marketplace-be/internal/utils"

	"go.uber.org/zap"
)

const (
	maxIdempotencyKeyLen = 255
	ReplayedHeader       = "Idempotent-Replayed"
)

// Idempotency replays the stored response of a request that carried the
// same Idempotency-Key from the same caller within the TTL. A key in flight
// answers 409 and a key reused with a different body answers 400. Failed
// or panicking requests release their key so the client can retry.
type Idempotency struct {
	cache     cache.Cache
	ttl       time.Duration
	operation string
}

func NewIdempotency(c cache.Cache, ttl time.Duration, operation string) *Idempotency {
	return &Idempotency{cache: c, ttl: ttl, operation: operation}
}

type storedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(middleware.IdempotencyKeyHeader)
		if key == "" || i == nil || i.cache == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			transport.WriteError(w, r, apperr.Validation(middleware.IdempotencyKeyHeader, "is too long"))
			return
		}

		log := logger.FromCtx(r.Context()).With(zap.String("layer", "idempotency"))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, transport.MaxBodyBytes))
		if err != nil {
			transport.WriteError(w, r, apperr.Validation("body", "request body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		sum := sha256.Sum256(body)
		fingerprint := hex.EncodeToString(sum[:])

		caller := "anonymous"
		if id, ok := utils.GetUserIDFromContext(r.Context()); ok {
			caller = id.String()
		}
		cacheKey := i.cache.GenerateKey(i.operation, caller+":"+key)

		pending, _ := json.Marshal(storedResponse{Fingerprint: fingerprint})
		claimed, err := i.cache.SetNX(r.Context(), cacheKey, string(pending), i.ttl)
		if err != nil {
			log.Warn("idempotency store unavailable, serving without it", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			i.replay(w, r, cacheKey, fingerprint)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		kept := false
		defer func() {
			if kept {
				return
			}
			if err := i.cache.Delete(ctx, cacheKey); err != nil {
				log.Warn("failed to release idempotency key", zap.Error(err))
			}
		}()

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status < 200 || rec.status >= 300 {
			return
		}
		kept = true

		stored, _ := json.Marshal(storedResponse{
			Fingerprint: fingerprint,
			Status:      rec.status,
			Body:        json.RawMessage(bytes.TrimSpace(rec.body.Bytes())),
		})
		if err := i.cache.Set(ctx, cacheKey, string(stored), i.ttl); err != nil {
			log.Warn("failed to store idempotent response", zap.Error(err))
		}
	})
}

func (i *Idempotency) replay(w http.ResponseWriter, r *http.Request, cacheKey, fingerprint string) {
	raw, found, err := i.cache.Get(r.Context(), cacheKey)
	if err != nil {
		transport.WriteError(w, r, apperr.Persistence("read idempotency key", err))
		return
	}

	var stored storedResponse
	if found {
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			transport.WriteError(w, r, apperr.Persistence("decode idempotency key", err))
			return
		}
	}

	if found && stored.Fingerprint != fingerprint {
		transport.WriteError(w, r, apperr.Validation(middleware.IdempotencyKeyHeader, "was already used with a different request body"))
		return
	}

	if !found || stored.Status == 0 {
		transport.WriteJSON(w, http.StatusConflict, transport.ErrorBody{Error: transport.ErrorDetail{
			Code:    "idempotency_in_progress",
			Message: "a request with this Idempotency-Key is still being processed",
		}})
		return
	}

	w.Header().Set(ReplayedHeader, "true")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
