package contentstream

import (
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/coords"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

// Draw is an XObject painted by a Do operator. Corners are the page-space
// images of the unit square: lower-left, lower-right, upper-left,
// upper-right.
type Draw struct {
	OpIndex int
	Name    string
	CTM     coords.Matrix
	Corners [4]coords.Point
}

// Tracer executes operations virtually, tracking the CTM.
type Tracer struct{}

func NewTracer() *Tracer {
	return &Tracer{}
}

// Trace returns every Do in ops with the transform in force at that point.
// Unbalanced Q is an error; q left open at the end is not.
func (t *Tracer) Trace(ops []Operation) ([]Draw, error) {
	gs := NewGraphicsState()
	var draws []Draw
	for i, op := range ops {
		switch op.Operator {
		case "q":
			gs.Save()
		case "Q":
			if err := gs.Restore(); err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
		case "cm":
			v, ok := op.Numbers()
			if !ok {
				continue
			}
			if m, ok := coords.FromOperands(v); ok {
				gs.CTM = m.Multiply(gs.CTM)
			}
		case "Do":
			if len(op.Operands) != 1 {
				continue
			}
			name, ok := op.Operands[0].(raw.NameObj)
			if !ok {
				continue
			}
			draws = append(draws, Draw{
				OpIndex: i,
				Name:    name.Val,
				CTM:     gs.CTM,
				Corners: [4]coords.Point{
					gs.CTM.Transform(coords.Point{X: 0, Y: 0}),
					gs.CTM.Transform(coords.Point{X: 1, Y: 0}),
					gs.CTM.Transform(coords.Point{X: 0, Y: 1}),
					gs.CTM.Transform(coords.Point{X: 1, Y: 1}),
				},
			})
		}
	}
	return draws, nil
}
