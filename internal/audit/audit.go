package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry represents an audit log entry for a billing mutation.
type Entry struct {
	ID            string
	SchoolID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	StudentID     string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryLogger keeps entries in process. Used when no database is configured.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger constructs an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log records an entry.
func (m *MemoryLogger) Log(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of recorded entries.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
