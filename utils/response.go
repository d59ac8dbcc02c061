package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// HandlerFunc is an HTTP handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Responder writes JSON bodies and turns returned errors into the common
// {success:false, message} envelope.
type Responder struct {
	logger     *slog.Logger
	production bool
}

// NewResponder creates a Responder. In production, internal error details
// are withheld from clients.
func NewResponder(logger *slog.Logger, production bool) *Responder {
	return &Responder{logger: logger, production: production}
}

// Handle adapts fn into an http.HandlerFunc.
func (rs *Responder) Handle(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			rs.Error(w, r, err)
		}
	}
}

// JSON writes v with the given status code.
func (rs *Responder) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Error writes err as the JSON error envelope.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = Internal("Internal Server Error", err)
	}

	status := appErr.Status()
	body := errorBody{Message: appErr.Message}
	if status >= http.StatusInternalServerError {
		rs.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		if rs.production {
			body.Message = "Internal Server Error"
		}
	}
	if !rs.production {
		body.Stack = err.Error()
	}

	rs.JSON(w, status, body)
}

// NotFoundHandler answers unmatched routes.
func (rs *Responder) NotFoundHandler() http.Handler {
	return rs.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return NotFound("Not Found - " + r.URL.Path)
	})
}

// MethodNotAllowedHandler answers routes matched with the wrong method.
func (rs *Responder) MethodNotAllowedHandler() http.Handler {
	return rs.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return &AppError{Kind: KindMethodNotAllowed, Message: "Method Not Allowed - " + r.Method + " " + r.URL.Path}
	})
}
