// Package objectstore defines the blob storage used for uploaded documents
// and the key layout shared by every backend.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// DefaultListLimit matches the page size the preparer listing asks for.
const DefaultListLimit = 200

var (
	// ErrUnavailable wraps any backend failure during a write or list.
	ErrUnavailable = errors.New("objectstore: unavailable")
	// ErrExists is returned when a key is written twice.
	ErrExists = errors.New("objectstore: object already exists")
)

// Object is one stored blob as returned by List. Name is relative to the
// listed prefix.
type Object struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store writes and lists objects. Keys are never reused by callers.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	List(ctx context.Context, prefix string, limit int) ([]Object, error)
}
