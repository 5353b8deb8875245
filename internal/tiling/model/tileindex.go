package model

import (
	"cmp"
	"fmt"
)

type TileIndex2D struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// Compare orders by y, then x.
func (t TileIndex2D) Compare(o TileIndex2D) int {
	if c := cmp.Compare(t.Y, o.Y); c != 0 {
		return c
	}
	return cmp.Compare(t.X, o.X)
}

func (t TileIndex2D) At(z int) TileIndex3D {
	return TileIndex3D{X: t.X, Y: t.Y, Z: z}
}

func (t TileIndex2D) String() string {
	return fmt.Sprintf("[%d, %d]", t.X, t.Y)
}

type TileIndex3D struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int   `json:"z"`
}

// Compare orders by z, then y, then x.
func (t TileIndex3D) Compare(o TileIndex3D) int {
	if c := cmp.Compare(t.Z, o.Z); c != 0 {
		return c
	}
	return t.XY().Compare(o.XY())
}

func (t TileIndex3D) XY() TileIndex2D {
	return TileIndex2D{X: t.X, Y: t.Y}
}

func (t TileIndex3D) String() string {
	return fmt.Sprintf("[%d, %d, %d]", t.X, t.Y, t.Z)
}
