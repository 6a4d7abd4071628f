package checkout

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-checkout/internal/model"
)

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = 2 * time.Hour

// ManagerConfig configures the session registry.
type ManagerConfig struct {
	IdleTTL time.Duration
}

// CreateRequest starts a checkout for an existing cart.
type CreateRequest struct {
	CartToken  string `json:"cart_token"`
	CustomerID int    `json:"customer_id,omitempty"`
}

// Manager owns the live sessions. Sessions share no mutable state except
// the coupon lookup group.
type Manager struct {
	env *env
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a registry over deps.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Manager{
		env:      newEnv(deps),
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Create loads the cart snapshot and starts a session in the information
// step. For a known customer the saved addresses are prefilled; a failed
// customer lookup only costs the prefill.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	token := strings.TrimSpace(req.CartToken)
	if token == "" {
		return nil, model.NewInputError("cart_token_required", "cart_token is required")
	}

	lines, err := m.env.Cart.Lines(ctx, token)
	if err != nil {
		return nil, classify(err, "cart")
	}

	s := newSession(m.env, uuid.NewString(), token, req.CustomerID, lines)

	if req.CustomerID > 0 {
		c, err := m.env.Backend.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			m.env.Logger.Warn("customer prefill failed",
				slog.Int("customer_id", req.CustomerID),
				slog.String("error", err.Error()),
			)
		} else if c != nil {
			s.prefill(c)
		}
	}

	m.sweep(m.env.Now())
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.env.Logger.Info("checkout session created",
		slog.String("session_id", s.id),
		slog.Int("lines", len(lines)),
	)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.NewNotFoundError("checkout session")
	}
	return s, nil
}

// Remove drops a session from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Recovery returns the stored snapshot for a session, or nil.
// Works after the session itself has expired.
func (m *Manager) Recovery(ctx context.Context, id string) (*model.RecoverySnapshot, error) {
	return m.env.Recovery.Load(ctx, id)
}

// Sweep drops sessions idle longer than the TTL and returns how many.
// Busy sessions and sessions with a pending card payment are kept.
func (m *Manager) Sweep() int {
	return m.sweep(m.env.Now())
}

// sweep inspects sessions without holding m.mu, so a session blocked on a
// remote call never stalls the registry.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	live := maps.Clone(m.sessions)
	m.mu.Unlock()

	var idle []string
	for id, s := range live {
		touched, busy := s.idleSince()
		if !busy && now.Sub(touched) > m.ttl {
			idle = append(idle, id)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range idle {
		if m.sessions[id] == live[id] {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
