// Package payment creates and verifies hosted checkout sessions for
// consultation fees.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("payment session not found")
	ErrUnavailable     = errors.New("payment provider unavailable")
)

type SessionStatus string

const (
	SessionOpen    SessionStatus = "open"
	SessionPaid    SessionStatus = "paid"
	SessionExpired SessionStatus = "expired"
)

type CreateSessionRequest struct {
	BookingID   string `json:"booking_id"`
	CustomerID  string `json:"customer_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type Session struct {
	ID          string        `json:"session_id"`
	URL         string        `json:"url"`
	AmountMinor int64         `json:"amount_minor"`
	Status      SessionStatus `json:"status"`
}

// Gateway is the boundary to the hosted payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
	VerifySession(ctx context.Context, sessionID string) (SessionStatus, error)
}

// MockGateway keeps sessions in memory. With autoPay every session reports
// paid on first verification, which is how development runs without a
// provider.
type MockGateway struct {
	mu       sync.Mutex
	sessions map[string]*Session
	autoPay  bool
}

func NewMockGateway(autoPay bool) *MockGateway {
	return &MockGateway{sessions: make(map[string]*Session), autoPay: autoPay}
}

func (g *MockGateway) CreateSession(_ context.Context, req CreateSessionRequest) (*Session, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("create session: amount must be positive, got %d", req.AmountMinor)
	}
	id := "mock_" + uuid.NewString()
	s := &Session{
		ID:          id,
		URL:         "/mock-checkout/" + id,
		AmountMinor: req.AmountMinor,
		Status:      SessionOpen,
	}
	g.mu.Lock()
	g.sessions[id] = s
	g.mu.Unlock()

	out := *s
	return &out, nil
}

func (g *MockGateway) VerifySession(_ context.Context, sessionID string) (SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	if g.autoPay && s.Status == SessionOpen {
		s.Status = SessionPaid
	}
	return s.Status, nil
}

// MarkPaid simulates the customer completing checkout.
func (g *MockGateway) MarkPaid(sessionID string) error {
	return g.set(sessionID, SessionPaid)
}

// Expire simulates the provider abandoning the session.
func (g *MockGateway) Expire(sessionID string) error {
	return g.set(sessionID, SessionExpired)
}

func (g *MockGateway) set(sessionID string, status SessionStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	return nil
}
