// ===========================================
// Package models - Domain Models
// ===========================================
// Plain structs shared between repositories, services, and handlers.
// No business logic lives here - just data shapes and JSON tags.
// ===========================================

package models

import (
	"time"

	"github.com/google/uuid"
)

// URL is one shortened-URL record. Records are created by the shorten
// path and never mutated or deleted afterwards.
type URL struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	OriginalURL string    `json:"original_url"`
	URLHash     string    `json:"-"` // sha256 hex of the canonical URL, dedup key
	CreatedAt   time.Time `json:"created_at"`
}

// UpsertResult reports the outcome of an atomic URL insert.
// Created is false when a row with the same content hash already
// existed; ID and Code then refer to that existing row.
type UpsertResult struct {
	ID      uuid.UUID
	Code    string
	Created bool
}

// ShortenRequest is the body of POST /api/shorten and /api/public/shorten.
type ShortenRequest struct {
	URL string `json:"url" binding:"required"`
	// Alias is nil when the field is absent; a supplied empty alias
	// is rejected rather than silently ignored.
	Alias *string `json:"alias"`
}

// ShortenResponse is the data payload of a successful shorten call.
type ShortenResponse struct {
	ShortenedURL string `json:"shortened_url"`
	OriginalURL  string `json:"original_url"`
	ID           string `json:"id"`
}
