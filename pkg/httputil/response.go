// Package httputil provides the JSON response envelope, request
// parsing helpers, and HTTP middleware shared by all handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// FieldError is a single per-field validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Pagination describes a page of a listing response
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes the pagination block for a listing
func NewPagination(page, limit, total int) *Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return &Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Response is the uniform envelope every endpoint returns
type Response struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message,omitempty"`
	Data       interface{}  `json:"data,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	Pagination *Pagination  `json:"pagination,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a 200 envelope with data
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// WriteSuccessMessage writes a 200 envelope with a message and optional data
func WriteSuccessMessage(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// WriteCreated writes a 201 envelope with a message and data
func WriteCreated(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusCreated, Response{Success: true, Message: message, Data: data})
}

// WritePage writes a 200 envelope with data and pagination metadata
func WritePage(w http.ResponseWriter, data interface{}, pagination *Pagination) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Pagination: pagination})
}

// WriteError writes a failure envelope with the given status and message
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Success: false, Message: message})
}

// WriteValidationError writes a 400 envelope with per-field messages
func WriteValidationError(w http.ResponseWriter, errors []FieldError) {
	WriteJSON(w, http.StatusBadRequest, Response{
		Success: false,
		Message: "Validation failed",
		Errors:  errors,
	})
}

// WriteBadRequest writes a 400 failure envelope
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 failure envelope
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 failure envelope
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message)
}

// WriteNotFound writes a 404 failure envelope
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteConflict writes a 409 failure envelope
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message)
}

// WriteInternalError writes a generic 500 envelope. The underlying error
// detail is only included when the development flag is set; production
// responses never leak internals.
func WriteInternalError(w http.ResponseWriter, err error, development bool) {
	resp := Response{Success: false, Message: "Internal server error"}
	if development && err != nil {
		resp.Message = err.Error()
	}
	WriteJSON(w, http.StatusInternalServerError, resp)
}
