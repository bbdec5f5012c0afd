// Package storage implements the durable key/value contract the session store
// persists users through. A missing key means "no logged in user".
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: key not found")

type Storage interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Key builds the storage key of a visitor's user record.
func Key(prefix, visitorID, name string) string {
	if prefix == "" {
		return fmt.Sprintf("%s:%s", visitorID, name)
	}
	return fmt.Sprintf("%s:%s:%s", prefix, visitorID, name)
}
