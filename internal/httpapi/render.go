package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
)

func svcUnauthenticated(msg string) *svcerrors.ServiceError {
	return svcerrors.Unauthenticated(msg)
}

// errorEnvelope is the §6 error shape rendered for every 4xx/5xx response.
type errorEnvelope struct {
	Error      string `json:"error"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id"`
	Path       string `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as the error envelope, mapping it through the
// service's error taxonomy; it also sets Retry-After for rate-limit and
// spend-cap rejections.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := svcerrors.As(err)
	if !ok {
		se = svcerrors.InternalError(err.Error())
	}
	writeJSON(w, se.HTTPStatus, errorEnvelope{
		Error:      string(se.Code),
		Detail:     se.Message,
		StatusCode: se.HTTPStatus,
		RequestID:  requestIDFrom(r.Context()),
		Path:       r.URL.Path,
	})
}

func writeRetryAfter(w http.ResponseWriter, r *http.Request, err error, retryAfterSeconds int) {
	if retryAfterSeconds < 0 {
		retryAfterSeconds = 0
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeError(w, r, err)
}
