package httpapi

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor сопоставляет вид ошибки с HTTP-статусом.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrUnauthorized:
		return http.StatusForbidden
	case domain.ErrStateConflict:
		return http.StatusConflict
	case domain.ErrDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// encodeError возвращает статус и тело ответа для ошибки.
// Текст внутренних ошибок наружу не отдаётся.
func encodeError(err error) (int, []byte) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	body, marshalErr := json.Marshal(errorBody{Error: errorDetail{Code: domain.Code(err), Message: message}})
	if marshalErr != nil {
		body = []byte(`{"error":{"code":"INTERNAL","message":"internal error"}}`)
	}
	return status, body
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := encodeError(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeRaw(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode response")
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":{"code":"INTERNAL","message":"internal error"}}`))
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
