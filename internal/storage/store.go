// Package storage provides the key-value substrate shared by the result
// cache, the favorites store, and the optional persisted rate window.
package storage

import (
	"context"
	"errors"
)

// ErrQuotaExceeded reports that a write was refused because the backend is
// out of capacity. Callers decide whether the failure is fatal.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// Store is a namespaced byte-oriented key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix. Order is unspecified.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close(ctx context.Context) error
}
