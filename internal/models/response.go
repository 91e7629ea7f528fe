// ===========================================
// Package models - API Response Envelope
// ===========================================
// Every endpoint answers with the same JSON envelope:
//
//	{
//	  "success": true,
//	  "message": "ok",
//	  "status": 200,
//	  "time": "2025-01-18T12:00:00Z",
//	  "data": { ... }
//	}
//
// Success envelopes always carry a "data" field (it may be null,
// as on the health check). Error envelopes omit "data" entirely.
// ===========================================

package models

import "time"

// Envelope is the response body for successful requests.
type Envelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Status  int       `json:"status"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data"`
}

// ErrorEnvelope is the response body for failed requests.
// It has no Data field so "data" never appears in error output.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Status  int       `json:"status"`
	Time    time.Time `json:"time"`
}

// Success builds a 200 envelope around data. Data may be nil.
func Success(data any) Envelope {
	return SuccessWithStatus(200, data)
}

// SuccessWithStatus builds a success envelope with a custom status code.
func SuccessWithStatus(status int, data any) Envelope {
	return Envelope{
		Success: true,
		Message: "ok",
		Status:  status,
		Time:    time.Now().UTC(),
		Data:    data,
	}
}

// Error builds an error envelope. The message must be a stable,
// user-facing string: no hash values, stack traces, or row ids.
func Error(message string, status int) ErrorEnvelope {
	return ErrorEnvelope{
		Success: false,
		Message: message,
		Status:  status,
		Time:    time.Now().UTC(),
	}
}
