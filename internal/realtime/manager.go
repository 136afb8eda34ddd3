// Package realtime runs websocket sessions: it authenticates the handshake,
// records each open connection in a Registry, dispatches GenerateResponse
// actions to the RAG engine and delivers the reply to the originating
// connection.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docchat-backend/internal/rag"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

var (
	// ErrStaleConnection is returned by Deliver when the target connection is gone.
	ErrStaleConnection = faults.Delivery("realtime", errors.New("connection is gone"))
	// ErrUserMismatch rejects an action whose userId is not the token subject.
	ErrUserMismatch = faults.Auth("realtime", errors.New("user does not match token"))
)

// Responder produces the reply to one GenerateResponse action.
type Responder interface {
	Respond(ctx context.Context, req rag.Request) (rag.Reply, error)
}

// Manager owns the connection lifecycle. Only the Manager writes to the Registry.
type Manager struct {
	Registry Registry
	Hub      *Hub
	Verifier auth.Verifier
	Engine   Responder
	Now      func() time.Time
}

// NewManager wires a manager with an empty hub.
func NewManager(registry Registry, verifier auth.Verifier, engine Responder) *Manager {
	return &Manager{
		Registry: registry,
		Hub:      NewHub(),
		Verifier: verifier,
		Engine:   engine,
		Now:      time.Now,
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Open records c in the registry and makes it reachable by Deliver.
func (m *Manager) Open(ctx context.Context, c *Client) error {
	conn := Connection{ID: c.ID, UserID: c.UserID, EstablishedAt: m.now()}
	if err := m.Registry.Put(ctx, conn); err != nil {
		return faults.Transient("realtime.open", err)
	}
	m.Hub.Add(c)
	metrics.ConnectionOpened()
	telemetry.Info("realtime.connection.opened", map[string]any{
		"connection_id": c.ID,
		"user_id":       c.UserID,
	})
	return nil
}

// Close removes the connection. Calling it for an unknown or already
// closed id is a no-op apart from the registry delete.
func (m *Manager) Close(ctx context.Context, connectionID string) {
	c, ok := m.Hub.Remove(connectionID)
	if ok {
		c.Close()
		metrics.ConnectionClosed()
	}
	if err := m.Registry.Delete(ctx, connectionID); err != nil {
		telemetry.Warn("realtime.connection.delete_failed", map[string]any{
			"connection_id": connectionID,
			"error":         err.Error(),
		})
	}
	if ok {
		telemetry.Info("realtime.connection.closed", map[string]any{
			"connection_id": connectionID,
			"user_id":       c.UserID,
		})
	}
}

// Deliver queues f for connectionID and returns ErrStaleConnection when it
// cannot. A local connection that fails is closed and unregistered. A
// connection registered by another instance keeps its registry record.
func (m *Manager) Deliver(ctx context.Context, connectionID string, f Frame) error {
	c, ok := m.Hub.Get(connectionID)
	if ok && c.Enqueue(f) {
		return nil
	}

	reason := "backpressure"
	if ok {
		select {
		case <-c.Done():
			reason = "closed"
		default:
		}
		m.Close(ctx, connectionID)
	} else {
		reason = "closed"
		registered, err := m.Registry.Exists(ctx, connectionID)
		if err != nil || registered {
			reason = "stale"
		}
	}

	metrics.IncDeliveryFailure(reason)
	telemetry.Warn("realtime.delivery.stale", map[string]any{
		"connection_id":   connectionID,
		"reason":          reason,
		"frame_type":      f.Type,
		"conversation_id": f.ConversationID,
	})
	return fmt.Errorf("deliver to %s: %w", connectionID, ErrStaleConnection)
}

// Dispatch runs one inbound action to completion and delivers its result
// to the same connection. Delivery failures are logged, never returned.
func (m *Manager) Dispatch(ctx context.Context, connectionID string, action Action) {
	switch a := action.(type) {
	case GenerateResponse:
		m.generate(ctx, connectionID, a)
	case Unrecognized:
		telemetry.Warn("realtime.action.unsupported", map[string]any{
			"connection_id": connectionID,
			"action":        a.Name,
		})
		_ = m.Deliver(ctx, connectionID, ErrorFrame(CodeUnsupportedAction, fmt.Sprintf("unsupported action %q", a.Name), ""))
	default:
		_ = m.Deliver(ctx, connectionID, ErrorFrame(CodeBadRequest, "unknown frame", ""))
	}
}

func (m *Manager) generate(ctx context.Context, connectionID string, a GenerateResponse) {
	userID, err := m.authorize(connectionID, a)
	if err != nil {
		telemetry.Warn("realtime.action.unauthorized", map[string]any{
			"connection_id": connectionID,
			"document_id":   a.DocumentID,
			"error":         err.Error(),
		})
		_ = m.Deliver(ctx, connectionID, ErrorFrame(CodeUnauthorized, "invalid or expired token", a.ConversationID))
		return
	}

	reply, err := m.Engine.Respond(ctx, rag.Request{
		DocumentID:     a.DocumentID,
		ConversationID: a.ConversationID,
		UserID:         userID,
		Prompt:         a.Prompt,
	})
	if err != nil {
		code := rag.Code(err)
		fields := map[string]any{
			"connection_id":   connectionID,
			"document_id":     a.DocumentID,
			"conversation_id": a.ConversationID,
			"user_id":         userID,
			"code":            code,
			"error":           err.Error(),
		}
		if code == rag.CodeInternal {
			telemetry.Error("realtime.action.failed", fields)
		} else {
			telemetry.Warn("realtime.action.failed", fields)
		}
		_ = m.Deliver(ctx, connectionID, ErrorFrame(code, errorMessage(code), a.ConversationID))
		return
	}

	_ = m.Deliver(ctx, connectionID, ResponseFrame(reply.ConversationID, reply.Message.Content))
}

// authorize re-verifies the frame token and resolves the acting user.
func (m *Manager) authorize(connectionID string, a GenerateResponse) (string, error) {
	claims, err := m.Verifier.Verify(a.Token)
	if err != nil {
		return "", err
	}
	userID := a.UserID
	if userID == "" {
		userID = claims.Sub
	}
	if userID != claims.Sub {
		return "", ErrUserMismatch
	}
	if c, ok := m.Hub.Get(connectionID); ok && c.UserID != "" && c.UserID != claims.Sub {
		return "", ErrUserMismatch
	}
	return userID, nil
}

func errorMessage(code string) string {
	switch code {
	case rag.CodeRetrievalUnavailable:
		return "document search is unavailable, try again"
	case rag.CodeGenerationFailed:
		return "could not generate a reply, try again"
	case rag.CodeConversationWrite:
		return "could not save the conversation, try again"
	case rag.CodeDocumentNotReady:
		return "document is still processing"
	case rag.CodeNotFound:
		return "document or conversation not found"
	case rag.CodeBadRequest:
		return "prompt is required"
	default:
		return "internal error"
	}
}
