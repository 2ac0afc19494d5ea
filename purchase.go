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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PurchaseState is the coordinator's position in the purchase flow.
type PurchaseState int

const (
	StateIdle PurchaseState = iota
	StateAwaitingWallet
	StateAwaitingConfirmation
	StateSettled
)

func (s PurchaseState) String() string {
	switch s {
	case StateAwaitingWallet:
		return "awaiting_wallet"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateSettled:
		return "settled"
	}
	return "idle"
}

// MarshalText implements encoding.TextMarshaler.
func (s PurchaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PurchaseStatus tracks the payment behind a PendingPurchase.
type PurchaseStatus string

const (
	PurchaseRequested PurchaseStatus = "requested"
	PurchaseSubmitted PurchaseStatus = "submitted"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// PendingPurchase is the selection and metadata frozen at commit time.
// Later edits to the selection do not reach it.
type PendingPurchase struct {
	ID        string         `json:"id"`
	Cells     []Coord        `json:"cells"`
	Metadata  Metadata       `json:"metadata"`
	Total     *big.Int       `json:"-"`
	Payer     Address        `json:"payer"`
	Recipient Address        `json:"recipient"`
	TxHash    string         `json:"tx_hash,omitempty"`
	Status    PurchaseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

func (p *PendingPurchase) clone() *PendingPurchase {
	cp := *p
	cp.Cells = slices.Clone(p.Cells)
	cp.Total = new(big.Int).Set(p.Total)
	return &cp
}

// Outcome is the settled result of one purchase attempt.
type Outcome struct {
	PurchaseID string   `json:"purchase_id"`
	Success    bool     `json:"success"`
	TxHash     string   `json:"tx_hash,omitempty"`
	Owned      []Coord  `json:"owned,omitempty"`
	Conflicts  []Coord  `json:"conflicts,omitempty"`
	RefundDue  *big.Int `json:"-"`
	// FundsMoved is false when the payment never left the wallet.
	FundsMoved bool  `json:"funds_moved"`
	Err        error `json:"-"`
}

// RefundRecorder keeps track of payments that bought fewer cells than
// they paid for.
type RefundRecorder interface {
	RecordRefund(ctx context.Context, r Refund) error
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Grid       *GridStore
	Selection  *Selection
	Wallet     Wallet
	PixelPrice *big.Int
	Recipient  Address
	Refunds    RefundRecorder
	Logger     *slog.Logger
	// OnSettled is called after every terminal outcome.
	OnSettled func(Outcome)
}

// Coordinator turns a selection into owned cells:
// Idle → AwaitingWallet → AwaitingConfirmation → Settled.
type Coordinator struct {
	grid      *GridStore
	selection *Selection
	wallet    Wallet
	price     *big.Int
	recipient Address
	refunds   RefundRecorder
	logger    *slog.Logger
	tracer    trace.Tracer
	onSettled func(Outcome)
	now       func() time.Time

	mu      sync.Mutex
	state   PurchaseState
	pending *PendingPurchase
	abandon chan struct{}
	asked   *walletRound
	last    *Outcome
}

// walletRound is one payment request in flight. done is closed once Run
// knows whether the wallet accepted; submitted is set before that.
type walletRound struct {
	done      chan struct{}
	submitted bool
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	price := cfg.PixelPrice
	if price == nil {
		price = new(big.Int)
	}
	return &Coordinator{
		grid:      cfg.Grid,
		selection: cfg.Selection,
		wallet:    cfg.Wallet,
		price:     price,
		recipient: cfg.Recipient,
		refunds:   cfg.Refunds,
		logger:    logger,
		tracer:    otel.Tracer("github.com/bodul/pixelgrid"),
		onSettled: cfg.OnSettled,
		now:       time.Now,
	}
}

// State returns the current state.
func (c *Coordinator) State() PurchaseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns a copy of the in-flight purchase, if any.
func (c *Coordinator) Pending() *PendingPurchase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	return c.pending.clone()
}

// LastOutcome returns the most recent terminal outcome, if any.
func (c *Coordinator) LastOutcome() *Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	cp := *c.last
	return &cp
}

// Begin checks the selection and the wallet, then freezes them into a
// PendingPurchase and moves to AwaitingWallet. Nothing is paid yet.
func (c *Coordinator) Begin(meta Metadata) (*PendingPurchase, error) {
	meta, err := meta.Validate()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaitingWallet || c.state == StateAwaitingConfirmation {
		return nil, ErrPurchaseInProgress
	}

	coords := c.selection.Coords()
	if len(coords) == 0 {
		return nil, ErrEmptySelection
	}
	payer, ok := c.wallet.Account()
	if !ok {
		return nil, ErrWalletNotConnected
	}
	if c.recipient.IsZero() || c.recipient == payer {
		return nil, ErrInvalidRecipient
	}
	if taken := c.grid.Unavailable(coords); len(taken) > 0 {
		return nil, &UnavailableError{Coords: taken}
	}

	c.pending = &PendingPurchase{
		ID:        uuid.NewString(),
		Cells:     coords,
		Metadata:  meta,
		Total:     priceOf(len(coords), c.price),
		Payer:     payer,
		Recipient: c.recipient,
		Status:    PurchaseRequested,
		CreatedAt: c.now().UTC(),
	}
	c.abandon = make(chan struct{})
	c.asked = nil
	c.state = StateAwaitingWallet

	c.logger.Info("achat en attente du portefeuille",
		"purchase", c.pending.ID, "cells", len(coords), "wei", c.pending.Total, "payer", payer)
	return c.pending.clone(), nil
}

// Abandon withdraws the purchase while the wallet has not answered.
// Once the payment is broadcast it can no longer be withdrawn. When the
// wallet is already being asked, Abandon waits for its answer: a payment
// accepted in the meantime reports ErrNotCancellable.
func (c *Coordinator) Abandon() error {
	c.mu.Lock()
	switch c.state {
	case StateAwaitingWallet:
	case StateAwaitingConfirmation:
		c.mu.Unlock()
		return ErrNotCancellable
	default:
		c.mu.Unlock()
		return ErrNoPurchase
	}
	select {
	case <-c.abandon:
	default:
		close(c.abandon)
	}
	round := c.asked
	c.mu.Unlock()

	// Run has not asked the wallet yet and will see the closed channel.
	if round == nil {
		return nil
	}
	<-round.done
	if round.submitted {
		return ErrNotCancellable
	}
	return nil
}

// Purchase runs Begin then Run.
func (c *Coordinator) Purchase(ctx context.Context, meta Metadata) (Outcome, error) {
	p, err := c.Begin(meta)
	if err != nil {
		return Outcome{}, err
	}
	out := c.Run(ctx, p)
	return out, out.Err
}

// Run drives the purchase started by Begin to a terminal outcome.
// Cancelling ctx only has an effect while the wallet has not answered.
func (c *Coordinator) Run(ctx context.Context, p *PendingPurchase) Outcome {
	c.mu.Lock()
	if c.pending == nil || c.pending.ID != p.ID || c.state != StateAwaitingWallet {
		c.mu.Unlock()
		return Outcome{PurchaseID: p.ID, Err: ErrNoPurchase}
	}
	p = c.pending.clone()
	abandon := c.abandon
	select {
	case <-abandon:
		c.mu.Unlock()
		return c.settle(p, StateIdle, Outcome{PurchaseID: p.ID, Err: ErrAbandoned})
	default:
	}
	round := &walletRound{done: make(chan struct{})}
	c.asked = round
	c.mu.Unlock()
	answered := sync.OnceFunc(func() { close(round.done) })
	defer answered()

	ctx, span := c.tracer.Start(ctx, "purchase",
		trace.WithAttributes(
			attribute.String("purchase.id", p.ID),
			attribute.Int("purchase.cells", len(p.Cells)),
			attribute.String("purchase.total_wei", p.Total.String()),
		))
	defer span.End()

	walletCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-abandon:
			cancel()
		case <-walletCtx.Done():
		}
	}()

	tx, err := c.wallet.RequestPayment(walletCtx, p.Payer, p.Recipient, p.Total)
	if err != nil {
		if walletCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrAbandoned, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrWalletRejected, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return c.settle(p, StateIdle, Outcome{PurchaseID: p.ID, Err: err})
	}

	c.mu.Lock()
	c.state = StateAwaitingConfirmation
	c.pending.TxHash = tx.Hash()
	c.pending.Status = PurchaseSubmitted
	round.submitted = true
	p = c.pending.clone()
	c.mu.Unlock()
	answered()
	span.SetAttributes(attribute.String("purchase.tx", p.TxHash))
	c.logger.Info("paiement soumis", "purchase", p.ID, "tx", p.TxHash)

	// A broadcast payment cannot be withdrawn; neither can we stop
	// waiting for it.
	confirmCtx := context.WithoutCancel(ctx)
	status, err := tx.AwaitConfirmation(confirmCtx)
	if err != nil || status != TxConfirmed {
		if err == nil {
			err = ErrTransactionFailed
		} else {
			err = fmt.Errorf("%w: %w", ErrTransactionFailed, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return c.settle(p, StateSettled, Outcome{PurchaseID: p.ID, TxHash: p.TxHash, Err: err})
	}

	out := c.assign(confirmCtx, p)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return c.settle(p, StateSettled, out)
}

// assign writes the paid cells into the grid. Cells lost to a
// concurrent buyer are dropped and reported with the refund they are owed.
func (c *Coordinator) assign(ctx context.Context, p *PendingPurchase) Outcome {
	out := Outcome{PurchaseID: p.ID, TxHash: p.TxHash, FundsMoved: true}

	remaining := slices.Clone(p.Cells)
	var failure error
	for len(remaining) > 0 {
		claims := make([]Claim, len(remaining))
		for i, coord := range remaining {
			claims[i] = Claim{Coord: coord, Metadata: p.Metadata}
		}
		err := c.grid.ApplyOwnership(ctx, Grant{Owner: p.Payer, TxHash: p.TxHash, Claims: claims})
		if err == nil {
			out.Owned = remaining
			break
		}
		var owned *AlreadyOwnedError
		if !errors.As(err, &owned) {
			failure = err
			out.Conflicts = append(out.Conflicts, remaining...)
			break
		}
		out.Conflicts = append(out.Conflicts, owned.Coords...)
		remaining = slices.DeleteFunc(remaining, func(coord Coord) bool {
			return slices.Contains(owned.Coords, coord)
		})
	}

	if len(out.Conflicts) == 0 {
		out.Success = true
		return out
	}

	sortCoords(out.Conflicts)
	out.RefundDue = priceOf(len(out.Conflicts), c.price)
	if failure != nil {
		out.Err = fmt.Errorf("apply ownership: %w", failure)
	} else {
		out.Err = &AlreadyOwnedError{Coords: out.Conflicts}
	}
	if c.refunds != nil {
		if err := c.refunds.RecordRefund(ctx, Refund{
			TxHash:    p.TxHash,
			Account:   p.Payer,
			AmountWei: out.RefundDue.String(),
			Cells:     out.Conflicts,
			CreatedAt: c.now().UTC(),
		}); err != nil {
			c.logger.Error("remboursement non enregistré", "purchase", p.ID, "tx", p.TxHash, "error", err)
		}
	}
	return out
}

// settle records the outcome and updates the selection: cleared on
// full success, minus the granted cells on a partial one, untouched
// otherwise.
func (c *Coordinator) settle(p *PendingPurchase, next PurchaseState, out Outcome) Outcome {
	switch {
	case out.Success:
		c.selection.Clear()
	case len(out.Owned) > 0:
		c.selection.Remove(out.Owned)
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.ID == p.ID {
		switch {
		case out.FundsMoved:
			c.pending.Status = PurchaseConfirmed
		case next == StateSettled:
			c.pending.Status = PurchaseFailed
		}
		c.pending = nil
	}
	c.state = next
	c.last = &out
	onSettled := c.onSettled
	c.mu.Unlock()

	switch {
	case out.Success:
		c.logger.Info("achat confirmé", "purchase", p.ID, "tx", out.TxHash, "cells", len(out.Owned))
	case out.FundsMoved:
		c.logger.Warn("achat partiel", "purchase", p.ID, "tx", out.TxHash,
			"owned", len(out.Owned), "lost", len(out.Conflicts), "refund_wei", out.RefundDue, "error", out.Err)
	default:
		c.logger.Warn("achat échoué", "purchase", p.ID, "state", next, "error", out.Err)
	}

	if onSettled != nil {
		onSettled(out)
	}
	return out
}

// Watch consumes wallet events until ctx is done. Losing the account or
// switching chain while the wallet is being asked to pay abandons the
// purchase.
func (c *Coordinator) Watch(ctx context.Context, handle func(WalletEvent)) {
	events := c.wallet.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case WalletDisconnected, WalletAccountChanged, WalletChainChanged:
				if err := c.Abandon(); err == nil {
					c.logger.Info("achat abandonné", "reason", ev.Kind)
				}
			}
			if handle != nil {
				handle(ev)
			}
		}
	}
}
