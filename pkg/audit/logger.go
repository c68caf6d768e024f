// Package audit records structured JSON audit events for every
// security-relevant operation: compiles, signing, key validation,
// routing decisions, and session mutations.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glytch-labs/ucp/core/pkg/auth"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
	EventSecurity EventType = "SECURITY"
)

// Well-known actions.
const (
	ActionCompile         = "ucp.compile"
	ActionSign            = "ucp.sign"
	ActionVerify          = "ucp.verify"
	ActionKeyIssued       = "ucp.key.issued"
	ActionKeyRevoked      = "ucp.key.revoked"
	ActionKeyRejected     = "ucp.key.rejected"
	ActionRoute           = "ucp.route"
	ActionSessionStart    = "ucp.session.start"
	ActionSessionDelete   = "ucp.session.delete"
	ActionSessionReplay   = "ucp.session.replay"
	ActionSessionExport   = "ucp.session.export"
	ActionDictionaryWrite = "ucp.dictionary.write"
)

// Event represents a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	actorID := "system"
	if principal, err := auth.GetPrincipal(ctx); err == nil {
		actorID = principal.GetID()
	}

	event := Event{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Nop returns a Logger that discards every event.
func Nop() Logger {
	return &logger{writer: io.Discard, clock: time.Now}
}
