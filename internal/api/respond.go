package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vthunder/clr/internal/engine"
	"github.com/vthunder/clr/internal/telemetry"
	"github.com/vthunder/clr/internal/types"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		response.Error = err.Error()
	}
	respondJSON(w, status, response)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case telemetry.IsUnknownSource(err):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err)
}

// decodeJSON reads a request body into a struct and runs struct
// validation. An empty body leaves v untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	if err := decodeBody(r, v, allowEmpty); err != nil {
		return err
	}
	return validateBody(v)
}

// decodeBody only parses; range checks are left to the caller
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", types.ErrValidation, err)
	}
	return nil
}

func validateBody(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", types.ErrValidation, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return nil
}

// queryFloat parses an optional float query parameter
func queryFloat(r *http.Request, key string) (float64, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s must be a number", types.ErrValidation, key)
	}
	return v, true, nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", types.ErrValidation, key)
	}
	return v, nil
}
