package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GridSize is the default edge length of the grid.
const GridSize = 100

const maxURLLength = 2048

// Coord addresses one cell of the grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// less orders coordinates row by row.
func (c Coord) less(o Coord) bool {
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// RGB is a 24-bit color.
type RGB uint32

var (
	// DefaultFill is the color of every unowned cell.
	DefaultFill = RGB(0xFFFFFF)
	// DefaultInk is the color proposed to a buyer before they pick one.
	DefaultInk = RGB(0x000000)
)

// ParseRGB accepts "#rrggbb" (the hash is optional).
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("color %q: expected #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q: %w", s, err)
	}
	return RGB(v), nil
}

func (c RGB) String() string {
	return fmt.Sprintf("#%06X", uint32(c)&0xFFFFFF)
}

// MarshalText implements encoding.TextMarshaler.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *RGB) UnmarshalText(text []byte) error {
	v, err := ParseRGB(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Metadata is what a buyer attaches to the cells they pay for.
type Metadata struct {
	Color RGB    `json:"color"`
	Link  string `json:"link,omitempty"`
	Image string `json:"image,omitempty"`
}

// Validate trims the URLs and checks they are absolute http(s) URLs.
func (m Metadata) Validate() (Metadata, error) {
	var err error
	if m.Link, err = cleanURL("link", m.Link); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if m.Image, err = cleanURL("image", m.Image); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return m, nil
}

func cleanURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > maxURLLength {
		return "", fmt.Errorf("%s: too long", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s: must be an absolute http(s) URL", field)
	}
	return u.String(), nil
}

// Cell is one addressable unit of the grid. An unowned cell only ever
// carries the default fill.
type Cell struct {
	Coord
	Owner       Address   `json:"owner,omitzero"`
	Color       RGB       `json:"color"`
	Link        string    `json:"link,omitempty"`
	Image       string    `json:"image,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	PurchasedAt time.Time `json:"purchased_at,omitzero"`
}

// Owned reports whether somebody holds the cell.
func (c Cell) Owned() bool {
	return !c.Owner.IsZero()
}

// Title is the tooltip shown when hovering the cell.
func (c Cell) Title() string {
	if c.Owned() {
		return "Owned by: " + c.Owner.String()
	}
	return "Available"
}

func emptyCell(c Coord) Cell {
	return Cell{Coord: c, Color: DefaultFill}
}
