package api

import (
	"encoding/json"
	"errors"
	"llmproxy/internal/attachments"
	domain "llmproxy/internal/models"
	"net/http"

	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrDailyLimitExceeded), errors.Is(err, domain.ErrHourlyCostLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, attachments.ErrMissingPayload), errors.Is(err, attachments.ErrInvalidPayload), errors.Is(err, attachments.ErrUnsupportedKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStreamTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		logrus.Errorf("Внутренняя ошибка: %v", err)
		resp = errorResponse{Error: "внутренняя ошибка сервера"}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Ошибка при записи ответа: %v", err)
	}
}
