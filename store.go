package main

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one visitor: a wallet, a selection, and the coordinator
// that turns the selection into a purchase.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Wallet      *LedgerWallet
	Selection   *Selection
	Coordinator *Coordinator

	cancel   context.CancelFunc
	mu       sync.Mutex
	lastSeen time.Time
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionEvent is something a session's subscribers should hear about.
type SessionEvent struct {
	SessionID string
	Type      string
	Payload   any
}

// StoreOptions configures the sessions a Store creates.
type StoreOptions struct {
	PixelPrice *big.Int
	Treasury   Address
	ChainID    int64
	Logger     *slog.Logger
	// OnEvent receives wallet and purchase events of every session.
	OnEvent func(SessionEvent)
}

// Store holds the shared grid and every visitor session in memory.
type Store struct {
	grid   *GridStore
	ledger *Ledger
	opts   StoreOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store around grid. ledger may be nil
// in tests that never connect a wallet.
func NewStore(grid *GridStore, ledger *Ledger, opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PixelPrice == nil {
		opts.PixelPrice = new(big.Int)
	}
	return &Store{
		grid:     grid,
		ledger:   ledger,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Grid returns the shared grid.
func (s *Store) Grid() *GridStore {
	return s.grid
}

// Ledger returns the ledger backing wallets and ownership.
func (s *Store) Ledger() *Ledger {
	return s.ledger
}

// CreateSession opens a session with a disconnected wallet.
func (s *Store) CreateSession() *Session {
	id := uuid.NewString()
	logger := s.opts.Logger.With("session", id)

	sess := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		lastSeen:  time.Now(),
	}
	sess.Wallet = NewLedgerWallet(s.ledger, Address{}, s.opts.ChainID, logger)
	sess.Wallet.onRequest = func(req PaymentRequest) {
		s.publish(id, "payment_requested", req)
	}
	sess.Selection = NewSelection(s.grid)

	var refunds RefundRecorder
	if s.ledger != nil {
		refunds = s.ledger
	}
	sess.Coordinator = NewCoordinator(CoordinatorConfig{
		Grid:       s.grid,
		Selection:  sess.Selection,
		Wallet:     sess.Wallet,
		PixelPrice: s.opts.PixelPrice,
		Recipient:  s.opts.Treasury,
		Refunds:    refunds,
		Logger:     logger,
		OnSettled: func(out Outcome) {
			s.publish(id, "purchase_settled", outcomeView(out))
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	go sess.Coordinator.Watch(ctx, func(ev WalletEvent) {
		s.publish(id, "wallet_"+ev.Kind.String(), walletEventView(ev))
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// GetSession returns a session by ID, or nil if not found.
func (s *Store) GetSession(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// CloseSession abandons any purchase still waiting for the wallet and
// forgets the session. A payment already broadcast keeps settling.
func (s *Store) CloseSession(id string) {
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if sess == nil {
		return
	}
	_ = sess.Coordinator.Abandon()
	sess.Wallet.Disconnect()
	sess.cancel()
}

// SessionCount returns the number of open sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Expire closes sessions idle for longer than ttl, unless they are in
// the middle of a purchase.
func (s *Store) Expire(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) && sess.Coordinator.State() != StateAwaitingConfirmation {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.CloseSession(id)
	}
	return len(stale)
}

// setEventHandler replaces the receiver of session events.
func (s *Store) setEventHandler(fn func(SessionEvent)) {
	s.mu.Lock()
	s.opts.OnEvent = fn
	s.mu.Unlock()
}

func (s *Store) publish(sessionID, typ string, payload any) {
	s.mu.RLock()
	onEvent := s.opts.OnEvent
	s.mu.RUnlock()
	if onEvent != nil {
		onEvent(SessionEvent{SessionID: sessionID, Type: typ, Payload: payload})
	}
}

// PixelPrice returns the price of one cell in wei.
func (s *Store) PixelPrice() *big.Int {
	return new(big.Int).Set(s.opts.PixelPrice)
}

// Treasury returns the address receiving payments.
func (s *Store) Treasury() Address {
	return s.opts.Treasury
}

// ChainID returns the chain wallets connect to.
func (s *Store) ChainID() int64 {
	return s.opts.ChainID
}

func walletEventView(ev WalletEvent) map[string]any {
	view := map[string]any{"chain_id": ev.ChainID}
	if !ev.Account.IsZero() {
		view["account"] = ev.Account.String()
	}
	return view
}
