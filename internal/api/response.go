package api

import (
	"errors"
	"net/http"

	"foliocore/pkg/foliocore"
)

// ErrorResponse is the error body shared by every endpoint.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	Field     string `json:"field,omitempty"`
}

// writeCoreError maps a business error onto the right HTTP status and keeps
// its code and offending field in the body.
func writeCoreError(w http.ResponseWriter, err error) {
	var coreErr *foliocore.Error
	if errors.As(err, &coreErr) {
		writeJSON(w, mapErrorCodeToHTTPStatus(coreErr.Code), ErrorResponse{
			Error:     coreErr.Message,
			ErrorCode: string(coreErr.Code),
			Field:     coreErr.Field,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func mapErrorCodeToHTTPStatus(code foliocore.ErrorCode) int {
	switch code {
	case foliocore.ErrCodeValidation, foliocore.ErrCodeOversell:
		return http.StatusBadRequest
	case foliocore.ErrCodeNotFound, foliocore.ErrCodeReferential:
		return http.StatusNotFound
	case foliocore.ErrCodeDuplicate:
		return http.StatusConflict
	case foliocore.ErrCodeProvider:
		return http.StatusBadGateway
	case foliocore.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case foliocore.ErrCodeDatabase, foliocore.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
