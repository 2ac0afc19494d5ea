package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const walletEventBuffer = 8

// ErrUnknownRequest means no payment request with that ID is waiting.
var ErrUnknownRequest = errors.New("unknown payment request")

// PaymentRequest is a payment waiting for the holder's approval.
type PaymentRequest struct {
	ID        string    `json:"id"`
	From      Address   `json:"from"`
	To        Address   `json:"to"`
	AmountWei string    `json:"amount_wei"`
	Amount    string    `json:"amount_eth"`
	CreatedAt time.Time `json:"created_at"`

	decision chan bool
}

// LedgerWallet is a wallet provider whose account lives in the Ledger.
// Payments are held until the holder approves or rejects them.
type LedgerWallet struct {
	ledger *Ledger
	logger *slog.Logger
	events chan WalletEvent

	// onRequest, when set, hears about every payment awaiting a decision.
	onRequest func(PaymentRequest)

	mu        sync.Mutex
	account   Address
	chainID   int64
	connected bool
	requests  map[string]*PaymentRequest
}

// NewLedgerWallet returns a disconnected wallet holding account.
func NewLedgerWallet(ledger *Ledger, account Address, chainID int64, logger *slog.Logger) *LedgerWallet {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerWallet{
		ledger:   ledger,
		logger:   logger,
		chainID:  chainID,
		events:   make(chan WalletEvent, walletEventBuffer),
		account:  account,
		requests: make(map[string]*PaymentRequest),
	}
}

// Connect opens the account on the ledger. The faucet credits new accounts.
func (w *LedgerWallet) Connect(ctx context.Context) (Address, error) {
	w.mu.Lock()
	account, chainID := w.account, w.chainID
	w.mu.Unlock()

	if w.ledger == nil || account.IsZero() {
		return Address{}, ErrNoProvider
	}
	if _, err := w.ledger.EnsureAccount(ctx, account); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	w.emit(WalletEvent{Kind: WalletConnected, Account: account, ChainID: chainID})
	return account, nil
}

// Disconnect closes the connection and declines every waiting request.
func (w *LedgerWallet) Disconnect() {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = false
	w.declineAllLocked()
	chainID := w.chainID
	w.mu.Unlock()
	w.emit(WalletEvent{Kind: WalletDisconnected, ChainID: chainID})
}

// SwitchAccount changes the active account, as a wallet extension does
// when the holder picks another one. Waiting requests are declined.
func (w *LedgerWallet) SwitchAccount(ctx context.Context, account Address) error {
	if account.IsZero() {
		return fmt.Errorf("account is required")
	}
	w.mu.Lock()
	if w.account == account {
		w.mu.Unlock()
		return nil
	}
	connected := w.connected
	w.mu.Unlock()

	if connected {
		if _, err := w.ledger.EnsureAccount(ctx, account); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportError, err)
		}
	}

	w.mu.Lock()
	w.account = account
	w.declineAllLocked()
	chainID := w.chainID
	w.mu.Unlock()
	if connected {
		w.emit(WalletEvent{Kind: WalletAccountChanged, Account: account, ChainID: chainID})
	}
	return nil
}

// SwitchChain moves the wallet to another chain. Waiting requests were
// signed for the old chain and are declined.
func (w *LedgerWallet) SwitchChain(chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("chain id must be positive, got %d", chainID)
	}
	w.mu.Lock()
	if w.chainID == chainID {
		w.mu.Unlock()
		return nil
	}
	w.chainID = chainID
	w.declineAllLocked()
	account, connected := w.account, w.connected
	w.mu.Unlock()
	if connected {
		w.emit(WalletEvent{Kind: WalletChainChanged, Account: account, ChainID: chainID})
	}
	return nil
}

// Account returns the active account while connected.
func (w *LedgerWallet) Account() (Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return Address{}, false
	}
	return w.account, true
}

// ChainID identifies the chain the wallet is connected to.
func (w *LedgerWallet) ChainID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

// Balance returns the active account's ledger balance.
func (w *LedgerWallet) Balance(ctx context.Context) (*big.Int, error) {
	account, ok := w.Account()
	if !ok {
		return nil, ErrWalletNotConnected
	}
	return w.ledger.Balance(ctx, account)
}

// RequestPayment waits for the holder to approve, then submits the
// transfer from from. Cancelling ctx withdraws the request; switching
// account declines it.
func (w *LedgerWallet) RequestPayment(ctx context.Context, from, to Address, amount *big.Int) (PendingTx, error) {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: wallet disconnected", ErrTransportError)
	}
	if w.account != from {
		active := w.account
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s, active %s", ErrAccountMismatch, from, active)
	}
	req := &PaymentRequest{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		AmountWei: amount.String(),
		Amount:    FormatEther(amount),
		CreatedAt: time.Now().UTC(),
		decision:  make(chan bool, 1),
	}
	w.requests[req.ID] = req
	w.mu.Unlock()

	w.logger.Info("demande de paiement en attente", "request", req.ID, "to", to, "wei", amount)
	if w.onRequest != nil {
		w.onRequest(*req)
	}

	select {
	case approved := <-req.decision:
		if !approved {
			return nil, ErrUserDeclined
		}
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.requests, req.ID)
		w.mu.Unlock()
		return nil, ctx.Err()
	}

	hash, err := w.ledger.Submit(ctx, req.From, to, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	return &ledgerTx{ledger: w.ledger, hash: hash}, nil
}

// Pending lists the requests waiting for a decision, oldest first.
func (w *LedgerWallet) Pending() []PaymentRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PaymentRequest, 0, len(w.requests))
	for _, r := range w.requests {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b PaymentRequest) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Approve lets the waiting request with that ID go through.
func (w *LedgerWallet) Approve(id string) error {
	return w.decide(id, true)
}

// Reject declines the waiting request with that ID.
func (w *LedgerWallet) Reject(id string) error {
	return w.decide(id, false)
}

func (w *LedgerWallet) decide(id string, approved bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	delete(w.requests, id)
	req.decision <- approved
	return nil
}

func (w *LedgerWallet) declineAllLocked() {
	for id, req := range w.requests {
		delete(w.requests, id)
		req.decision <- false
	}
}

// Events delivers connection changes. Events are dropped when the
// subscriber falls behind.
func (w *LedgerWallet) Events() <-chan WalletEvent {
	return w.events
}

func (w *LedgerWallet) emit(ev WalletEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("événement de portefeuille ignoré", "kind", ev.Kind)
	}
}

type ledgerTx struct {
	ledger *Ledger
	hash   string
}

func (t *ledgerTx) Hash() string { return t.hash }

func (t *ledgerTx) AwaitConfirmation(ctx context.Context) (TxStatus, error) {
	return t.ledger.Await(ctx, t.hash)
}

var _ Wallet = (*LedgerWallet)(nil)
