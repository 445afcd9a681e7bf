package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a structured error response.
// Kind and Suggestion tell the caller what failed and what to check.
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Message    string                 `json:"message,omitempty"`
	Status     string                 `json:"status"`
	Kind       string                 `json:"kind,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteMethodNotAllowed writes a 405 Method Not Allowed response
func WriteMethodNotAllowed(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Method not allowed"
	}
	return WriteError(w, http.StatusMethodNotAllowed, message, nil)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	return WriteErrorResponse(w, status, ErrorResponse{
		Error:   errorTypeForStatus(status),
		Message: message,
		Details: details,
	})
}

// WriteErrorResponse writes a fully populated error response
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) error {
	if resp.Error == "" {
		resp.Error = errorTypeForStatus(status)
	}
	resp.Status = "error"
	return WriteJSON(w, status, resp)
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal_error"
	}
}
