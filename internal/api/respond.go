// ABOUTME: JSON response helpers shared by the REST handlers
// ABOUTME: Maps messaging errors onto status codes with a stable {error, message} body

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/hostel-messaging/internal/messaging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// writeServiceError maps a service error to its status and public message.
// Internal causes are logged by the service and never reach the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := messaging.KindOf(err)
	if kind == messaging.KindInternal {
		h.logger.Error("unexpected handler error", "path", r.URL.Path, "error", err)
	}
	sendJSONError(w, kind.HTTPStatus(), string(kind), messaging.PublicMessage(err))
}

// decodeJSON reads a JSON body into dst and runs struct validation.
// Returns a client-safe message on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be
// absent. An empty body leaves dst zero and still runs validation.
func (h *Handler) decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	return h.decodeBody(w, r, dst, true)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) (string, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		return "invalid JSON body", false
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

// validationMessage turns validator errors into "field is required" style text.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fe.Field()+" must be one of: "+fe.Param())
		case "max":
			msgs = append(msgs, fe.Field()+" exceeds "+fe.Param()+" characters")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
