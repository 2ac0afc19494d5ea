package main

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTempLedger(t *testing.T, opts LedgerOptions) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenLedger(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func ether(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := ParseEther(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func awaitStatus(t *testing.T, l *Ledger, hash string) TxStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := l.Await(ctx, hash)
	if err != nil {
		t.Fatalf("await %s: %v", hash, err)
	}
	return status
}

func TestOpenLedgerRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := OpenLedger(context.Background(), " ", LedgerOptions{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLedgerFaucetCreditsOnce(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{Faucet: ether(t, "1")})
	ctx := context.Background()

	balance, err := l.EnsureAccount(ctx, alice)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if got := FormatEther(balance); got != "1" {
		t.Fatalf("balance = %s, want 1", got)
	}
	if _, err := l.EnsureAccount(ctx, alice); err != nil {
		t.Fatalf("ensure account again: %v", err)
	}
	balance, _ = l.Balance(ctx, alice)
	if got := FormatEther(balance); got != "1" {
		t.Fatalf("balance after second connect = %s, want 1", got)
	}

	unknown, err := l.Balance(ctx, bob)
	if err != nil || unknown.Sign() != 0 {
		t.Fatalf("unknown balance = %v, %v; want 0, nil", unknown, err)
	}
}

func TestLedgerTransferSettles(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{ConfirmDelay: 10 * time.Millisecond, Faucet: ether(t, "1")})
	ctx := context.Background()
	if _, err := l.EnsureAccount(ctx, alice); err != nil {
		t.Fatal(err)
	}

	hash, err := l.Submit(ctx, alice, vault, ether(t, "0.0002"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(hash) != 66 {
		t.Fatalf("hash length = %d, want 66", len(hash))
	}

	if status := awaitStatus(t, l, hash); status != TxConfirmed {
		t.Fatalf("status = %s, want confirmed", status)
	}
	from, _ := l.Balance(ctx, alice)
	to, _ := l.Balance(ctx, vault)
	if got := FormatEther(from); got != "0.9998" {
		t.Fatalf("payer balance = %s, want 0.9998", got)
	}
	if got := FormatEther(to); got != "0.0002" {
		t.Fatalf("treasury balance = %s, want 0.0002", got)
	}
}

func TestLedgerTransferFailsWithoutFunds(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{ConfirmDelay: 10 * time.Millisecond, Faucet: ether(t, "0.0001")})
	ctx := context.Background()
	if _, err := l.EnsureAccount(ctx, alice); err != nil {
		t.Fatal(err)
	}

	hash, err := l.Submit(ctx, alice, vault, ether(t, "0.0002"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status := awaitStatus(t, l, hash); status != TxFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	balance, _ := l.Balance(ctx, alice)
	if got := FormatEther(balance); got != "0.0001" {
		t.Fatalf("balance = %s, want 0.0001", got)
	}
}

func TestLedgerUnknownTransfer(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{})
	if _, err := l.TransferStatus(context.Background(), "0xdead"); !errors.Is(err, ErrUnknownTransfer) {
		t.Fatalf("expected ErrUnknownTransfer, got %v", err)
	}
}

func TestLedgerResumesPendingTransfers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := OpenLedger(ctx, path, LedgerOptions{ConfirmDelay: time.Hour, Faucet: ether(t, "1")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.EnsureAccount(ctx, alice); err != nil {
		t.Fatal(err)
	}
	hash, err := first.Submit(ctx, alice, vault, ether(t, "0.5"))
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenLedger(ctx, path, LedgerOptions{ConfirmDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if status := awaitStatus(t, second, hash); status != TxConfirmed {
		t.Fatalf("status = %s, want confirmed", status)
	}
}

func TestLedgerRecordOwnership(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{})
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	meta := Metadata{Color: 0xABCDEF, Link: "https://example.com", Image: "https://example.com/a.png"}
	if err := l.RecordOwnership(ctx, Grant{Owner: alice, TxHash: "0x01", Claims: claims(meta, Coord{X: 1, Y: 2}, Coord{X: 0, Y: 0})}, at); err != nil {
		t.Fatalf("record: %v", err)
	}

	err := l.RecordOwnership(ctx, Grant{Owner: bob, TxHash: "0x02", Claims: claims(Metadata{}, Coord{X: 5, Y: 5}, Coord{X: 1, Y: 2})}, at)
	var owned *AlreadyOwnedError
	if !errors.As(err, &owned) {
		t.Fatalf("expected *AlreadyOwnedError, got %v", err)
	}
	if diff := cmp.Diff([]Coord{{X: 1, Y: 2}}, owned.Coords); diff != "" {
		t.Fatalf("conflicts mismatch (-want +got):\n%s", diff)
	}

	cells, err := l.LoadOwnership(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []Cell{
		{Coord: Coord{X: 0, Y: 0}, Owner: alice, Color: 0xABCDEF, Link: meta.Link, Image: meta.Image, TxHash: "0x01", PurchasedAt: at},
		{Coord: Coord{X: 1, Y: 2}, Owner: alice, Color: 0xABCDEF, Link: meta.Link, Image: meta.Image, TxHash: "0x01", PurchasedAt: at},
	}
	if diff := cmp.Diff(want, cells); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestLedgerBacksGridStore(t *testing.T) {
	t.Parallel()
	l, path := openTempLedger(t, LedgerOptions{})
	ctx := context.Background()

	grid := NewGridStore(10, l)
	if err := grid.ApplyOwnership(ctx, Grant{Owner: alice, TxHash: "0x01", Claims: claims(Metadata{Color: 0x112233}, Coord{X: 4, Y: 4})}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLedger(ctx, path, LedgerOptions{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rebuilt := NewGridStore(10, reopened)
	if n, err := rebuilt.Load(ctx); err != nil || n != 1 {
		t.Fatalf("Load = %d, %v; want 1, nil", n, err)
	}
	cell, _ := rebuilt.Cell(Coord{X: 4, Y: 4})
	if cell.Owner != alice || cell.Color != 0x112233 {
		t.Fatalf("rebuilt cell = %+v", cell)
	}

	// A stale cache cannot overwrite the ledger.
	stale := NewGridStore(10, reopened)
	err = stale.ApplyOwnership(ctx, Grant{Owner: bob, Claims: claims(Metadata{}, Coord{X: 4, Y: 4})})
	if !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned from ledger, got %v", err)
	}
}

func TestLedgerRefunds(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{})
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	refund := Refund{TxHash: "0x01", Account: alice, AmountWei: "100000000000000", Cells: []Coord{{X: 1, Y: 0}, {X: 3, Y: 7}}, CreatedAt: at}
	if err := l.RecordRefund(ctx, refund); err != nil {
		t.Fatalf("record refund: %v", err)
	}

	got, err := l.Refunds(ctx, alice)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if diff := cmp.Diff([]Refund{refund}, got); diff != "" {
		t.Fatalf("refunds mismatch (-want +got):\n%s", diff)
	}

	none, err := l.Refunds(ctx, bob)
	if err != nil || len(none) != 0 {
		t.Fatalf("bob refunds = %v, %v; want none", none, err)
	}
}

func TestLedgerFailsTransferThatCannotSettle(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{})
	l.retryDelay = time.Millisecond
	ctx := context.Background()

	const hash = "0xbad"
	if _, err := l.sqlDB.ExecContext(ctx,
		`INSERT INTO transfers (hash, sender, recipient, amount_wei, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hash, alice.String(), vault.String(), "not-a-number", transferPending, toMillis(time.Now()),
	); err != nil {
		t.Fatalf("insert transfer: %v", err)
	}
	l.schedule(hash, 0)

	if status := awaitStatus(t, l, hash); status != TxFailed {
		t.Fatalf("status = %s, want failed", status)
	}
}

func TestLedgerAwaitCancelReleasesWaiter(t *testing.T) {
	t.Parallel()
	l, _ := openTempLedger(t, LedgerOptions{ConfirmDelay: time.Hour, Faucet: ether(t, "1")})
	ctx := context.Background()
	if _, err := l.EnsureAccount(ctx, alice); err != nil {
		t.Fatal(err)
	}
	hash, err := l.Submit(ctx, alice, vault, ether(t, "0.1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Await(cctx, hash); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("await = %v, want deadline exceeded", err)
	}

	l.mu.Lock()
	n := len(l.waiters[hash])
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("waiters = %d, want 0", n)
	}
}
