package inbound

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/webhooks"
)

const (
	ErrorBodyInvalidSignature = "invalid_webhook_signature"
	ErrorBodyInvalidPayload   = "invalid_webhook_payload"
	ErrorBodyTooLarge         = "webhook_payload_too_large"
	ErrorBodyProcessing       = "webhook_processing_failed"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// WriteSignatureError writes the 401 response for a failed verification.
func WriteSignatureError(w http.ResponseWriter, sigErr *webhooks.SignatureError) {
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error:  ErrorBodyInvalidSignature,
		Reason: string(sigErr.Reason),
	})
}

// DefaultErrorHandler answers 400 for payload validation failures, 413 for
// oversized bodies and 500 for everything else.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if sigErr, ok := webhooks.AsSignatureError(err); ok {
		WriteSignatureError(w, sigErr)
		return
	}
	if webhooks.IsValidationError(err) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrorBodyInvalidPayload})
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: ErrorBodyTooLarge})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: ErrorBodyProcessing})
}

func bodyReadError(source error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(source, &tooLarge) {
		return goerrors.Wrap(source, goerrors.CategoryBadInput, "inbound: webhook body exceeds limit").
			WithCode(http.StatusRequestEntityTooLarge).
			WithTextCode(core.ErrorBadInput).
			WithMetadata(map[string]any{"limit_bytes": limit})
	}
	return core.WrapError(source, goerrors.CategoryBadInput, "inbound: read webhook body", nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
