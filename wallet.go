package main

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrNoProvider     = errors.New("no wallet provider")
	ErrUserDeclined   = errors.New("user declined")
	ErrTransportError = errors.New("wallet transport error")
	// ErrAccountMismatch means the payer is not the wallet's active account.
	ErrAccountMismatch = errors.New("payer is not the active account")
)

// TxStatus is the terminal state of a submitted payment.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	}
	return "pending"
}

// PendingTx is the handle of a payment broadcast to the ledger.
type PendingTx interface {
	Hash() string
	// AwaitConfirmation blocks until the ledger settles the payment.
	AwaitConfirmation(ctx context.Context) (TxStatus, error)
}

// Wallet is what the purchase flow needs from the visitor's wallet.
type Wallet interface {
	Connect(ctx context.Context) (Address, error)
	Disconnect()
	// Account returns the active spending account, if any.
	Account() (Address, bool)
	// RequestPayment asks the holder to pay amount from from to to. It
	// blocks until the holder answers or ctx is done. The payment is only
	// sent while from is the active account.
	RequestPayment(ctx context.Context, from, to Address, amount *big.Int) (PendingTx, error)
	// Events delivers connection changes to a single subscriber.
	Events() <-chan WalletEvent
}

// WalletEventKind enumerates wallet state transitions.
type WalletEventKind int

const (
	WalletConnected WalletEventKind = iota + 1
	WalletDisconnected
	WalletAccountChanged
	WalletChainChanged
)

func (k WalletEventKind) String() string {
	switch k {
	case WalletConnected:
		return "connected"
	case WalletDisconnected:
		return "disconnected"
	case WalletAccountChanged:
		return "account_changed"
	case WalletChainChanged:
		return "chain_changed"
	}
	return "unknown"
}

// WalletEvent is one connection change.
type WalletEvent struct {
	Kind    WalletEventKind
	Account Address
	ChainID int64
}
