package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Claim asks for one cell with the metadata it should carry.
type Claim struct {
	Coord
	Metadata
}

// Grant is a batch of claims paid for by one transaction.
type Grant struct {
	Owner  Address
	TxHash string
	Claims []Claim
}

func (g Grant) coords() []Coord {
	out := make([]Coord, len(g.Claims))
	for i, c := range g.Claims {
		out[i] = c.Coord
	}
	return out
}

// OwnershipLedger is the durable record of ownership. GridStore is a
// cache of it.
type OwnershipLedger interface {
	RecordOwnership(ctx context.Context, g Grant, at time.Time) error
	LoadOwnership(ctx context.Context) ([]Cell, error)
}

// GridSnapshot is the read-only projection handed to renderers.
type GridSnapshot struct {
	Size  int    `json:"size"`
	Cells []Cell `json:"cells"` // owned cells only, row-major order
}

// GridStore holds the canonical grid. ApplyOwnership is the only write
// path once the store has been loaded.
type GridStore struct {
	mu     sync.RWMutex
	size   int
	cells  [][]Cell // [y][x]
	ledger OwnershipLedger
	now    func() time.Time

	// OnChange is called with the freshly owned cells after each
	// successful ApplyOwnership. Set it before serving traffic.
	OnChange func([]Cell)
}

// NewGridStore creates a size×size grid of unowned cells. A nil ledger
// keeps ownership in memory only.
func NewGridStore(size int, ledger OwnershipLedger) *GridStore {
	if size <= 0 {
		size = GridSize
	}
	cells := make([][]Cell, size)
	for y := range cells {
		cells[y] = make([]Cell, size)
		for x := range cells[y] {
			cells[y][x] = emptyCell(Coord{X: x, Y: y})
		}
	}
	return &GridStore{
		size:   size,
		cells:  cells,
		ledger: ledger,
		now:    time.Now,
	}
}

// Size returns the edge length of the grid.
func (g *GridStore) Size() int {
	return g.size
}

func (g *GridStore) inBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.size && c.Y >= 0 && c.Y < g.size
}

// Cell returns a copy of the cell at c.
func (g *GridStore) Cell(c Coord) (Cell, error) {
	if !g.inBounds(c) {
		return Cell{}, fmt.Errorf("%w: %s", ErrOutOfBounds, c)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[c.Y][c.X], nil
}

// IsAvailable reports whether c is in bounds and unowned.
func (g *GridStore) IsAvailable(c Coord) bool {
	if !g.inBounds(c) {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.cells[c.Y][c.X].Owned()
}

// Unavailable returns the subset of coords that are owned right now.
func (g *GridStore) Unavailable(coords []Coord) []Coord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Coord
	for _, c := range coords {
		if g.inBounds(c) && g.cells[c.Y][c.X].Owned() {
			out = append(out, c)
		}
	}
	return out
}

// ApplyOwnership writes every claim of grant or none of them.
// Availability is checked again here, under the write lock, whatever the
// caller saw at selection time.
func (g *GridStore) ApplyOwnership(ctx context.Context, grant Grant) error {
	if grant.Owner.IsZero() {
		return fmt.Errorf("apply ownership: owner is required")
	}
	if len(grant.Claims) == 0 {
		return fmt.Errorf("apply ownership: no cells")
	}

	seen := make(map[Coord]struct{}, len(grant.Claims))
	for _, c := range grant.Claims {
		if !g.inBounds(c.Coord) {
			return fmt.Errorf("apply ownership: %w: %s", ErrOutOfBounds, c.Coord)
		}
		if _, dup := seen[c.Coord]; dup {
			return fmt.Errorf("apply ownership: duplicate cell %s", c.Coord)
		}
		seen[c.Coord] = struct{}{}
	}

	g.mu.Lock()
	var conflicts []Coord
	for _, c := range grant.Claims {
		if g.cells[c.Y][c.X].Owned() {
			conflicts = append(conflicts, c.Coord)
		}
	}
	if len(conflicts) > 0 {
		g.mu.Unlock()
		return &AlreadyOwnedError{Coords: conflicts}
	}

	at := g.now().UTC()
	if g.ledger != nil {
		if err := g.ledger.RecordOwnership(ctx, grant, at); err != nil {
			g.mu.Unlock()
			return fmt.Errorf("record ownership: %w", err)
		}
	}

	changed := make([]Cell, 0, len(grant.Claims))
	for _, c := range grant.Claims {
		cell := Cell{
			Coord:       c.Coord,
			Owner:       grant.Owner,
			Color:       c.Color,
			Link:        c.Link,
			Image:       c.Image,
			TxHash:      grant.TxHash,
			PurchasedAt: at,
		}
		g.cells[c.Y][c.X] = cell
		changed = append(changed, cell)
	}
	onChange := g.OnChange
	g.mu.Unlock()

	if onChange != nil {
		onChange(changed)
	}
	return nil
}

// Load rebuilds the cache from the ledger. Cells the ledger does not
// know about are reset to the unowned default.
func (g *GridStore) Load(ctx context.Context) (int, error) {
	if g.ledger == nil {
		return 0, nil
	}
	owned, err := g.ledger.LoadOwnership(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ownership: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for y := range g.cells {
		for x := range g.cells[y] {
			g.cells[y][x] = emptyCell(Coord{X: x, Y: y})
		}
	}
	n := 0
	for _, cell := range owned {
		if !g.inBounds(cell.Coord) || !cell.Owned() {
			continue
		}
		g.cells[cell.Y][cell.X] = cell
		n++
	}
	return n, nil
}

// Snapshot copies every owned cell.
func (g *GridStore) Snapshot() GridSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := GridSnapshot{Size: g.size, Cells: []Cell{}}
	for y := range g.cells {
		for x := range g.cells[y] {
			if g.cells[y][x].Owned() {
				snap.Cells = append(snap.Cells, g.cells[y][x])
			}
		}
	}
	return snap
}

// OwnedBy lists the cells held by owner.
func (g *GridStore) OwnedBy(owner Address) []Cell {
	snap := g.Snapshot()
	return slices.DeleteFunc(snap.Cells, func(c Cell) bool {
		return c.Owner != owner
	})
}
