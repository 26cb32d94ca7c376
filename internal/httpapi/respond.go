package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/relaywave/wa-core/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, statusForKind(appErr.Kind), map[string]string{"error": appErr.Message, "kind": string(appErr.Kind)})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// statusForKind maps the §7 error taxonomy onto HTTP status codes for the
// API surface; the Dispatcher and webhook handlers never see this mapping,
// it exists purely for client-facing responses.
func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindInvalidCommand, apperrors.KindBadPayload:
		return http.StatusBadRequest
	case apperrors.KindBadSignature, apperrors.KindAuthExpired:
		return http.StatusUnauthorized
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
