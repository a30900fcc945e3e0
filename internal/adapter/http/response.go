package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	apperr "github.com/unmappedos-sys/unmappedOS-sub002/pkg/error"
)

// Envelope is the body of every JSON response
type Envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// errorData is the data field of a failed response
type errorData struct {
	Code    apperr.ErrorCode `json:"code"`
	Details string           `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, status bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(Envelope{
		Status:  status,
		Message: message,
		Data:    data,
	})
}

func success(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	writeJSON(w, statusCode, true, message, data)
}

// writeError maps err onto the error catalog and writes it. Server-side
// failures are logged with their cause; client errors are not.
func writeError(ctx context.Context, w http.ResponseWriter, log logger.Logger, err error) {
	appErr := apperr.FromDomain(err)
	status := apperr.GetHTTPStatusCode(appErr)

	if status >= http.StatusInternalServerError {
		log.Error(ctx, "Request failed", err, map[string]interface{}{
			"code": appErr.Code,
		})
	}

	writeJSON(w, status, false, appErr.Message, errorData{
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return apperr.ErrInvalidRequest("request body is required")
	}

	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.ErrInvalidRequest("request body is required")
	default:
		return apperr.ErrInvalidRequest(err.Error())
	}
}
