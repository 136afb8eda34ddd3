package realtime

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Connection is the registry record of one open websocket.
type Connection struct {
	ID            string
	UserID        string
	EstablishedAt time.Time
}

// Registry stores the set of live connections. Delete of a missing id is
// not an error.
type Registry interface {
	Put(ctx context.Context, conn Connection) error
	Delete(ctx context.Context, connectionID string) error
	Exists(ctx context.Context, connectionID string) (bool, error)
}

var errEmptyConnectionID = errors.New("connection id is required")

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: map[string]Connection{}}
}

func (r *MemoryRegistry) Put(_ context.Context, conn Connection) error {
	if conn.ID == "" {
		return errEmptyConnectionID
	}
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, connectionID string) error {
	r.mu.Lock()
	delete(r.conns, connectionID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Exists(_ context.Context, connectionID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.conns[connectionID]
	r.mu.RUnlock()
	return ok, nil
}

// Len reports how many connections are registered.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// PGRegistry implements Registry on the connections table.
type PGRegistry struct {
	DB *sql.DB
}

func (r *PGRegistry) Put(ctx context.Context, conn Connection) error {
	if conn.ID == "" {
		return errEmptyConnectionID
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO connections (connection_id, user_id, established_at)
VALUES ($1, $2, $3)
ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id, established_at = EXCLUDED.established_at`,
		conn.ID, conn.UserID, conn.EstablishedAt)
	return err
}

func (r *PGRegistry) Delete(ctx context.Context, connectionID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID)
	return err
}

func (r *PGRegistry) Exists(ctx context.Context, connectionID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM connections WHERE connection_id = $1)`, connectionID).Scan(&exists)
	return exists, err
}

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*PGRegistry)(nil)
)
