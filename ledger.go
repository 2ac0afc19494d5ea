package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/bodul/pixelgrid/migrations"
)

// Transfer statuses as stored in the ledger.
const (
	transferPending   = "pending"
	transferConfirmed = "confirmed"
	transferFailed    = "failed"
)

// maxSettleAttempts bounds retries of a settlement that keeps erroring;
// the transfer is then failed.
const maxSettleAttempts = 3

// ErrUnknownTransfer means the ledger has no transfer with that hash.
var ErrUnknownTransfer = errors.New("unknown transfer")

// LedgerOptions tunes the simulated chain.
type LedgerOptions struct {
	// ConfirmDelay is how long a transfer stays pending before settling.
	ConfirmDelay time.Duration
	// Faucet is credited to accounts the first time they connect.
	Faucet *big.Int
	Logger *slog.Logger
}

// Ledger is the source of truth for balances, transfers and pixel
// ownership. It stands in for the chain: transfers settle after a delay
// and fail when the sender cannot cover them.
type Ledger struct {
	sqlDB      *sql.DB
	opts       LedgerOptions
	now        func() time.Time
	nonce      atomic.Uint64
	retryDelay time.Duration

	mu      sync.Mutex
	waiters map[string][]chan struct{}
	timers  map[string]*time.Timer
	closed  bool
}

// Refund is a payment owed back to a buyer who lost cells to a race.
type Refund struct {
	TxHash    string    `json:"tx_hash"`
	Account   Address   `json:"account"`
	AmountWei string    `json:"amount_wei"`
	Cells     []Coord   `json:"cells"`
	CreatedAt time.Time `json:"created_at"`
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenLedger opens a SQLite ledger and applies embedded migrations.
// Transfers left pending by a previous run are rescheduled.
func OpenLedger(ctx context.Context, path string, opts LedgerOptions) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Faucet == nil {
		opts.Faucet = new(big.Int)
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serialises every write; sqlite would lock anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	l := &Ledger{
		sqlDB:      sqlDB,
		opts:       opts,
		now:        time.Now,
		retryDelay: time.Second,
		waiters:    make(map[string][]chan struct{}),
		timers:     make(map[string]*time.Timer),
	}
	if err := l.resumePending(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return l, nil
}

// Close stops pending settlements and closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	l.mu.Lock()
	l.closed = true
	for hash, t := range l.timers {
		t.Stop()
		delete(l.timers, hash)
	}
	l.mu.Unlock()
	return l.sqlDB.Close()
}

// EnsureAccount creates addr with the faucet balance if it is new and
// returns its balance.
func (l *Ledger) EnsureAccount(ctx context.Context, addr Address) (*big.Int, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("account is required")
	}
	if _, err := l.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (address, balance_wei, created_at) VALUES (?, ?, ?)`,
		addr.String(), l.opts.Faucet.String(), toMillis(l.now()),
	); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return l.Balance(ctx, addr)
}

// Balance returns the balance of addr; unknown accounts hold nothing.
func (l *Ledger) Balance(ctx context.Context, addr Address) (*big.Int, error) {
	return balanceOf(ctx, l.sqlDB, addr)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balanceOf(ctx context.Context, q queryer, addr Address) (*big.Int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance_wei FROM accounts WHERE address = ?`, addr.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance for %s: %q", addr, raw)
	}
	return v, nil
}

// Submit records a pending transfer and schedules its settlement.
func (l *Ledger) Submit(ctx context.Context, from, to Address, amount *big.Int) (string, error) {
	if from.IsZero() || to.IsZero() {
		return "", fmt.Errorf("sender and recipient are required")
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("amount must not be negative")
	}

	now := l.now()
	hash := l.transferHash(from, to, amount, now)
	if _, err := l.sqlDB.ExecContext(ctx,
		`INSERT INTO transfers (hash, sender, recipient, amount_wei, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hash, from.String(), to.String(), amount.String(), transferPending, toMillis(now),
	); err != nil {
		return "", fmt.Errorf("insert transfer: %w", err)
	}

	l.schedule(hash, l.opts.ConfirmDelay)
	l.opts.Logger.Info("transfert soumis", "hash", hash, "from", from, "to", to, "wei", amount)
	return hash, nil
}

func (l *Ledger) transferHash(from, to Address, amount *big.Int, at time.Time) string {
	n := l.nonce.Add(1)
	sum := blake3.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%d", from, to, amount, at.UnixNano(), n))
	return "0x" + hex.EncodeToString(sum[:])
}

func (l *Ledger) schedule(hash string, delay time.Duration) {
	l.scheduleAttempt(hash, delay, 1)
}

// scheduleAttempt settles hash after delay. A settlement that errors is
// retried, then the transfer is failed so its waiters do not hang.
func (l *Ledger) scheduleAttempt(hash string, delay time.Duration, attempt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.timers[hash] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, hash)
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}
		err := l.settle(context.Background(), hash)
		if err == nil {
			return
		}
		if attempt < maxSettleAttempts {
			l.opts.Logger.Warn("règlement en échec, nouvel essai", "hash", hash, "attempt", attempt, "error", err)
			l.scheduleAttempt(hash, l.retryDelay*time.Duration(attempt), attempt+1)
			return
		}
		l.opts.Logger.Error("règlement impossible, transfert annulé", "hash", hash, "error", err)
		if err := l.failTransfer(context.Background(), hash, "settlement error"); err != nil {
			l.opts.Logger.Error("transfert non annulé", "hash", hash, "error", err)
		}
	})
}

// failTransfer marks a pending transfer failed and wakes its waiters.
func (l *Ledger) failTransfer(ctx context.Context, hash, reason string) error {
	defer l.notify(hash)
	_, err := l.sqlDB.ExecContext(ctx,
		`UPDATE transfers SET status = ?, reason = ?, settled_at = ? WHERE hash = ? AND status = ?`,
		transferFailed, reason, toMillis(l.now()), hash, transferPending,
	)
	if err != nil {
		return fmt.Errorf("fail transfer: %w", err)
	}
	return nil
}

func (l *Ledger) resumePending(ctx context.Context) error {
	rows, err := l.sqlDB.QueryContext(ctx, `SELECT hash FROM transfers WHERE status = ?`, transferPending)
	if err != nil {
		return fmt.Errorf("list pending transfers: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("scan pending transfer: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list pending transfers: %w", err)
	}
	for _, h := range hashes {
		l.schedule(h, l.opts.ConfirmDelay)
	}
	return nil
}

// settle moves the funds of a pending transfer, or fails it when the
// sender cannot cover the amount.
func (l *Ledger) settle(ctx context.Context, hash string) error {
	defer l.notify(hash)

	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	var sender, recipient, amountRaw, status string
	err = tx.QueryRowContext(ctx,
		`SELECT sender, recipient, amount_wei, status FROM transfers WHERE hash = ?`, hash,
	).Scan(&sender, &recipient, &amountRaw, &status)
	if err != nil {
		return fmt.Errorf("read transfer: %w", err)
	}
	if status != transferPending {
		return nil
	}
	amount, ok := new(big.Int).SetString(amountRaw, 10)
	if !ok {
		return fmt.Errorf("corrupt amount %q", amountRaw)
	}
	from, err := ParseAddress(sender)
	if err != nil {
		return err
	}
	to, err := ParseAddress(recipient)
	if err != nil {
		return err
	}

	fromBalance, err := balanceOf(ctx, tx, from)
	if err != nil {
		return err
	}
	settledAt := toMillis(l.now())
	if fromBalance.Cmp(amount) < 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transfers SET status = ?, reason = ?, settled_at = ? WHERE hash = ?`,
			transferFailed, "insufficient funds", settledAt, hash,
		); err != nil {
			return fmt.Errorf("fail transfer: %w", err)
		}
		l.opts.Logger.Warn("transfert refusé : fonds insuffisants", "hash", hash, "from", from)
		return tx.Commit()
	}

	toBalance, err := balanceOf(ctx, tx, to)
	if err != nil {
		return err
	}
	if err := writeBalance(ctx, tx, from, fromBalance.Sub(fromBalance, amount), settledAt); err != nil {
		return err
	}
	if err := writeBalance(ctx, tx, to, toBalance.Add(toBalance, amount), settledAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transfers SET status = ?, settled_at = ? WHERE hash = ?`,
		transferConfirmed, settledAt, hash,
	); err != nil {
		return fmt.Errorf("confirm transfer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	l.opts.Logger.Info("transfert confirmé", "hash", hash)
	return nil
}

func writeBalance(ctx context.Context, tx *sql.Tx, addr Address, balance *big.Int, at int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (address, balance_wei, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET balance_wei = excluded.balance_wei`,
		addr.String(), balance.String(), at,
	)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func (l *Ledger) notify(hash string) {
	l.mu.Lock()
	chans := l.waiters[hash]
	delete(l.waiters, hash)
	l.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// TransferStatus returns the current status of a transfer.
func (l *Ledger) TransferStatus(ctx context.Context, hash string) (TxStatus, error) {
	var status string
	err := l.sqlDB.QueryRowContext(ctx, `SELECT status FROM transfers WHERE hash = ?`, hash).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return TxPending, fmt.Errorf("%w: %s", ErrUnknownTransfer, hash)
	}
	if err != nil {
		return TxPending, fmt.Errorf("read transfer status: %w", err)
	}
	switch status {
	case transferConfirmed:
		return TxConfirmed, nil
	case transferFailed:
		return TxFailed, nil
	}
	return TxPending, nil
}

// Await blocks until the transfer settles or ctx is done.
func (l *Ledger) Await(ctx context.Context, hash string) (TxStatus, error) {
	for {
		ch := make(chan struct{})
		l.mu.Lock()
		l.waiters[hash] = append(l.waiters[hash], ch)
		l.mu.Unlock()

		status, err := l.TransferStatus(ctx, hash)
		if err != nil || status != TxPending {
			l.dropWaiter(hash, ch)
			return status, err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			l.dropWaiter(hash, ch)
			return TxPending, ctx.Err()
		}
	}
}

func (l *Ledger) dropWaiter(hash string, ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chans := slices.DeleteFunc(l.waiters[hash], func(c chan struct{}) bool { return c == ch })
	if len(chans) == 0 {
		delete(l.waiters, hash)
		return
	}
	l.waiters[hash] = chans
}

// RecordOwnership writes every claim of g or none. A cell that already
// has a row is reported as an AlreadyOwnedError.
func (l *Ledger) RecordOwnership(ctx context.Context, g Grant, at time.Time) error {
	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ownership: %w", err)
	}
	defer tx.Rollback()

	var conflicts []Coord
	for _, c := range g.Claims {
		var found int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM pixels WHERE x = ? AND y = ?`, c.X, c.Y).Scan(&found)
		switch {
		case err == nil:
			conflicts = append(conflicts, c.Coord)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check pixel %s: %w", c.Coord, err)
		}
	}
	if len(conflicts) > 0 {
		return &AlreadyOwnedError{Coords: conflicts}
	}

	for _, c := range g.Claims {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pixels (x, y, owner, color, link, image, tx_hash, purchased_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.X, c.Y, g.Owner.String(), int64(c.Color), c.Link, c.Image, g.TxHash, toMillis(at),
		)
		if isUniqueViolation(err) {
			return &AlreadyOwnedError{Coords: []Coord{c.Coord}}
		}
		if err != nil {
			return fmt.Errorf("insert pixel %s: %w", c.Coord, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ownership: %w", err)
	}
	return nil
}

// LoadOwnership returns every owned cell recorded in the ledger.
func (l *Ledger) LoadOwnership(ctx context.Context) ([]Cell, error) {
	rows, err := l.sqlDB.QueryContext(ctx,
		`SELECT x, y, owner, color, link, image, tx_hash, purchased_at FROM pixels ORDER BY y, x`)
	if err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	defer rows.Close()

	var cells []Cell
	for rows.Next() {
		var (
			cell   Cell
			owner  string
			color  int64
			bought int64
		)
		if err := rows.Scan(&cell.X, &cell.Y, &owner, &color, &cell.Link, &cell.Image, &cell.TxHash, &bought); err != nil {
			return nil, fmt.Errorf("scan pixel: %w", err)
		}
		if cell.Owner, err = ParseAddress(owner); err != nil {
			return nil, fmt.Errorf("pixel %s: %w", cell.Coord, err)
		}
		cell.Color = RGB(color)
		cell.PurchasedAt = fromMillis(bought)
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	return cells, nil
}

// RecordRefund stores a refund owed to account for cells it paid for
// but could not receive.
func (l *Ledger) RecordRefund(ctx context.Context, r Refund) error {
	at := r.CreatedAt
	if at.IsZero() {
		at = l.now()
	}
	_, err := l.sqlDB.ExecContext(ctx,
		`INSERT INTO refunds (tx_hash, account, amount_wei, cells, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.TxHash, r.Account.String(), r.AmountWei, joinCoords(r.Cells), toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// Refunds lists the refunds owed to account, oldest first.
func (l *Ledger) Refunds(ctx context.Context, account Address) ([]Refund, error) {
	rows, err := l.sqlDB.QueryContext(ctx,
		`SELECT tx_hash, amount_wei, cells, created_at FROM refunds WHERE account = ? ORDER BY id`,
		account.String())
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []Refund
	for rows.Next() {
		var (
			r     Refund
			cells string
			at    int64
		)
		if err := rows.Scan(&r.TxHash, &r.AmountWei, &cells, &at); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		r.Account = account
		r.Cells = parseCoords(cells)
		r.CreatedAt = fromMillis(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseCoords(s string) []Coord {
	var out []Coord
	for _, field := range strings.Fields(s) {
		var c Coord
		if _, err := fmt.Sscanf(field, "(%d,%d)", &c.X, &c.Y); err == nil {
			out = append(out, c)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ OwnershipLedger = (*Ledger)(nil)
