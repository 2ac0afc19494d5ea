package main

import (
	"fmt"
	"math/big"
	"slices"
	"sync"
)

// Selection is the set of cells a visitor has picked but not paid for.
// Every member was available when it was added.
type Selection struct {
	mu    sync.Mutex
	grid  *GridStore
	cells map[Coord]struct{}
}

// NewSelection returns an empty selection validated against grid.
func NewSelection(grid *GridStore) *Selection {
	return &Selection{
		grid:  grid,
		cells: make(map[Coord]struct{}),
	}
}

// Toggle removes c if selected, otherwise adds it. Adding fails if c is
// outside the grid or already owned.
func (s *Selection) Toggle(c Coord) (selected bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cells[c]; ok {
		delete(s.cells, c)
		return false, nil
	}
	if !s.grid.inBounds(c) {
		return false, fmt.Errorf("%w: %s", ErrOutOfBounds, c)
	}
	if !s.grid.IsAvailable(c) {
		return false, fmt.Errorf("%w: %s", ErrCellUnavailable, c)
	}
	s.cells[c] = struct{}{}
	return true, nil
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	clear(s.cells)
	s.mu.Unlock()
}

// Remove drops the listed cells from the selection.
func (s *Selection) Remove(coords []Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range coords {
		delete(s.cells, c)
	}
}

// Contains reports whether c is selected.
func (s *Selection) Contains(c Coord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cells[c]
	return ok
}

// Len returns the number of selected cells.
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}

// Coords returns the selected cells in row-major order.
func (s *Selection) Coords() []Coord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Coord, 0, len(s.cells))
	for c := range s.cells {
		out = append(out, c)
	}
	sortCoords(out)
	return out
}

// Total is the price of the selection: count × pixelPrice.
func (s *Selection) Total(pixelPrice *big.Int) *big.Int {
	return priceOf(s.Len(), pixelPrice)
}

func priceOf(n int, pixelPrice *big.Int) *big.Int {
	if pixelPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(big.NewInt(int64(n)), pixelPrice)
}

func sortCoords(coords []Coord) {
	slices.SortFunc(coords, func(a, b Coord) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})
}
