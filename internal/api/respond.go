package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/redact"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes предел тела JSON-запроса
const maxBodyBytes = 1 << 20

// Envelope общий конверт всех HTTP-ответов
type Envelope struct {
	StatusCode int            `json:"status_code"`
	Status     string         `json:"status"`
	Code       perr.ErrorCode `json:"code,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Field      string         `json:"field,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       any            `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, Envelope{
		StatusCode: http.StatusOK,
		Status:     http.StatusText(http.StatusOK),
		RequestID:  middleware.GetReqID(r.Context()),
		Data:       data,
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := perr.HTTPStatus(err)
	wire := perr.WireFrom(err)

	log := logger.C(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	writeJSON(w, status, Envelope{
		StatusCode: status,
		Status:     http.StatusText(status),
		Code:       wire.Code,
		Kind:       wire.Kind,
		Error:      wire.Message,
		Field:      wire.Field,
		RequestID:  middleware.GetReqID(r.Context()),
	})
}

// bindJSON читает тело запроса в T и проверяет его валидатором
func bindJSON[T any](r *http.Request) (T, error) {
	var dst T
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, perr.New(perr.ErrorCodeJSON, "empty body")
		}
		return dst, perr.Wrap(err, perr.ErrorCodeJSON, "invalid JSON")
	}
	if dec.More() {
		return dst, perr.New(perr.ErrorCodeJSON, "unexpected trailing data")
	}

	v, _ := redact.Validator()
	if err := v.Struct(dst); err != nil {
		field := ""
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		return dst, perr.WithField(perr.New(perr.ErrorCodeValidation, redact.ValidationMessage(err)), field)
	}
	return dst, nil
}
