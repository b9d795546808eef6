package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/logger"

	"go.uber.org/zap"
)

const MaxBodyBytes = 1 << 20

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the standard error envelope. Storage and
// unexpected failures are logged and reported without their cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	detail := ErrorDetail{Code: string(kind), Message: err.Error()}

	var (
		ve *apperr.ValidationError
		ne *apperr.NotFoundError
		se *apperr.InsufficientStockError
		ie *apperr.InvalidStateError
	)
	switch {
	case errors.As(err, &se):
		detail.Details = map[string]any{
			"product_id": se.ProductID.String(),
			"requested":  se.Requested,
			"available":  se.Available,
			"shortfall":  se.Shortfall(),
		}
	case errors.As(err, &ve):
		detail.Details = map[string]any{"field": ve.Field}
	case errors.As(err, &ne):
		detail.Details = map[string]any{"entity": ne.Entity, "id": ne.ID}
	case errors.As(err, &ie):
		detail.Details = map[string]any{"order_id": ie.OrderID.String(), "status": ie.From}
	}

	if status >= http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error("request error",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		detail.Code = string(apperr.KindInternal)
		detail.Message = "internal server error"
		detail.Details = nil
	}

	WriteJSON(w, status, ErrorBody{Error: detail})
}

// DecodeJSON reads a single JSON object from the request body, rejecting
// unknown fields, trailing data and keys repeated within one object. Keys
// match case-insensitively, so "status" and "STATUS" count as a repeat.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return apperr.Validation("body", "request body too large")
		}
		return apperr.Validation("body", fmt.Sprintf("read body: %v", err))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "request body is empty")
		}
		return apperr.Validation("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if dec.More() {
		return apperr.Validation("body", "request body must contain a single JSON object")
	}

	scan := json.NewDecoder(bytes.NewReader(data))
	scan.UseNumber()
	return rejectRepeatedKeys(scan, "")
}

func rejectRepeatedKeys(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return apperr.Validation("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return apperr.Validation("body", fmt.Sprintf("malformed JSON: %v", err))
			}
			key, _ := keyTok.(string)
			field := key
			if path != "" {
				field = path + "." + key
			}

			folded := strings.ToLower(key)
			if _, dup := seen[folded]; dup {
				return apperr.Validation(field, "field is given more than once")
			}
			seen[folded] = struct{}{}

			if err := rejectRepeatedKeys(dec, field); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := rejectRepeatedKeys(dec, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil {
		return apperr.Validation("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}
