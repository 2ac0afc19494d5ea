package main

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

const cborContentType = "application/cbor"

// encMode uses Core Deterministic Encoding: the same grid always
// produces the same bytes, so clients can compare snapshots cheaply.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// GridView is what the rendering surface draws: the owned cells plus,
// when a session asks, its own pending selection.
type GridView struct {
	Size     int     `json:"size"`
	Cells    []Cell  `json:"cells"`
	Selected []Coord `json:"selected,omitempty"`
}

// wireCell is the compact CBOR form of an owned cell.
type wireCell struct {
	X     int    `cbor:"x"`
	Y     int    `cbor:"y"`
	Owner string `cbor:"o"`
	Color uint32 `cbor:"c"`
	Link  string `cbor:"l,omitempty"`
	Image string `cbor:"i,omitempty"`
	Tx    string `cbor:"t,omitempty"`
	At    int64  `cbor:"a,omitempty"`
}

type wireView struct {
	Size     int        `cbor:"size"`
	Cells    []wireCell `cbor:"cells"`
	Selected [][2]int   `cbor:"selected,omitempty"`
}

func newGridView(snap GridSnapshot, selected []Coord) GridView {
	return GridView{Size: snap.Size, Cells: snap.Cells, Selected: selected}
}

// EncodeCBOR writes v to w.
func (v GridView) EncodeCBOR(w io.Writer) error {
	wire := wireView{Size: v.Size, Cells: make([]wireCell, len(v.Cells))}
	for i, c := range v.Cells {
		wire.Cells[i] = wireCell{
			X:     c.X,
			Y:     c.Y,
			Owner: c.Owner.String(),
			Color: uint32(c.Color),
			Link:  c.Link,
			Image: c.Image,
			Tx:    c.TxHash,
		}
		if !c.PurchasedAt.IsZero() {
			wire.Cells[i].At = c.PurchasedAt.UnixMilli()
		}
	}
	for _, c := range v.Selected {
		wire.Selected = append(wire.Selected, [2]int{c.X, c.Y})
	}
	return encMode.NewEncoder(w).Encode(wire)
}

// DecodeGridView reads a view written by EncodeCBOR.
func DecodeGridView(r io.Reader) (GridView, error) {
	var wire wireView
	if err := decMode.NewDecoder(r).Decode(&wire); err != nil {
		return GridView{}, err
	}
	v := GridView{Size: wire.Size, Cells: make([]Cell, 0, len(wire.Cells))}
	for _, wc := range wire.Cells {
		owner, err := ParseAddress(wc.Owner)
		if err != nil {
			return GridView{}, err
		}
		cell := Cell{
			Coord:  Coord{X: wc.X, Y: wc.Y},
			Owner:  owner,
			Color:  RGB(wc.Color),
			Link:   wc.Link,
			Image:  wc.Image,
			TxHash: wc.Tx,
		}
		if wc.At != 0 {
			cell.PurchasedAt = fromMillis(wc.At)
		}
		v.Cells = append(v.Cells, cell)
	}
	for _, s := range wire.Selected {
		v.Selected = append(v.Selected, Coord{X: s[0], Y: s[1]})
	}
	return v, nil
}
