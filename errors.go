package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfBounds means a coordinate lies outside the grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrCellUnavailable means the cell is already owned and cannot be selected.
	ErrCellUnavailable = errors.New("cell unavailable")
	// ErrAlreadyOwned means a cell was bought by someone else before our write.
	ErrAlreadyOwned = errors.New("cell already owned")

	ErrEmptySelection     = errors.New("empty selection")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidRecipient   = errors.New("invalid payment recipient")
	ErrPurchaseInProgress = errors.New("purchase already in progress")

	// ErrWalletRejected wraps every failure of the payment request itself.
	// No funds moved.
	ErrWalletRejected    = errors.New("wallet rejected the payment")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrAbandoned         = errors.New("purchase abandoned")
	ErrNotCancellable    = errors.New("purchase can no longer be cancelled")
	ErrNoPurchase        = errors.New("no purchase in progress")

	ErrInvalidMetadata  = errors.New("invalid metadata")
	ErrMetadataRejected = errors.New("metadata rejected by review")
)

// AlreadyOwnedError lists the cells that lost a race at apply time.
type AlreadyOwnedError struct {
	Coords []Coord
}

func (e *AlreadyOwnedError) Error() string {
	return fmt.Sprintf("cells already owned: %s", joinCoords(e.Coords))
}

func (e *AlreadyOwnedError) Is(target error) bool {
	return target == ErrAlreadyOwned
}

// UnavailableError lists selected cells that were bought since selection.
type UnavailableError struct {
	Coords []Coord
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cells unavailable: %s", joinCoords(e.Coords))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCellUnavailable
}

func joinCoords(coords []Coord) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
