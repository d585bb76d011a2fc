package server

import (
	"context"
)

// Cache defines the interface for caching file records by id
type Cache interface {
	GetRecord(ctx context.Context, id string) (*FileRecord, error)
	SetRecord(ctx context.Context, record *FileRecord) error
	DeleteRecord(ctx context.Context, id string) error
}

// NoOpCache implements the Cache interface but does nothing
type NoOpCache struct{}

// GetRecord returns a not found error
func (c *NoOpCache) GetRecord(ctx context.Context, id string) (*FileRecord, error) {
	return nil, ErrNotFound
}

// SetRecord does nothing
func (c *NoOpCache) SetRecord(ctx context.Context, record *FileRecord) error {
	return nil
}

// DeleteRecord does nothing
func (c *NoOpCache) DeleteRecord(ctx context.Context, id string) error {
	return nil
}
