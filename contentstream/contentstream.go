// Package contentstream decodes page content streams into operations.
package contentstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/FrostLynn/frostlynnPDF/coords"
	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/scanner"
)

// Operation is one operator with the operands that preceded it. Inline
// images are kept whole: Operator is "BI", Operands holds the image
// parameters as a single dictionary and Data the bytes between ID and EI.
type Operation struct {
	Operator string
	Operands []raw.Object
	Data     []byte
}

// Parse splits a decoded content stream into operations.
func Parse(data []byte) ([]Operation, error) {
	r := raw.NewTokenReader(scanner.NewBytes(data, scanner.Config{}), nil)
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenKeyword {
			r.Unread(tok)
			obj, err := r.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("operand at offset %d: %w", tok.Pos, err)
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.Str {
		case "]", ">>", ">", "}", "{":
			return nil, fmt.Errorf("unexpected %q at offset %d", tok.Str, tok.Pos)
		case "BI":
			op, err := readInlineImage(r)
			if err != nil {
				return nil, fmt.Errorf("inline image at offset %d: %w", tok.Pos, err)
			}
			ops = append(ops, op)
			operands = nil
			continue
		}
		ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
		operands = nil
	}
	if len(operands) > 0 {
		return nil, fmt.Errorf("dangling operands: %d", len(operands))
	}
	return ops, nil
}

func readInlineImage(r *raw.TokenReader) (Operation, error) {
	params := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return Operation{}, err
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			return Operation{Operator: "BI", Operands: []raw.Object{params}, Data: tok.Bytes}, nil
		case scanner.TokenName:
			v, err := r.ReadObject()
			if err != nil {
				return Operation{}, err
			}
			params.Set(tok.Str, v)
		default:
			return Operation{}, fmt.Errorf("expected parameter name, got %s", tok.Type)
		}
	}
}

// PageOperations decodes the page's content streams and parses them as one
// stream, in order. A stream with a filter that cannot be decoded is an
// error here, unlike when the stream is only copied.
func PageOperations(ctx context.Context, doc *raw.Document, page pages.Page, p *filters.Pipeline) ([]Operation, error) {
	if p == nil {
		p = filters.NewDefaultPipeline(filters.Limits{})
	}
	var buf bytes.Buffer
	for _, ref := range page.Contents {
		obj, err := doc.Get(ref)
		if err != nil {
			return nil, err
		}
		s, ok := obj.(*raw.StreamObj)
		if !ok {
			return nil, fmt.Errorf("content %s is not a stream", ref)
		}
		data, err := filters.DecodeStream(ctx, p, s)
		if err != nil {
			return nil, fmt.Errorf("content %s: %w", ref, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return Parse(buf.Bytes())
}

// Numbers returns the operands as floats. ok is false if any operand is
// not a number.
func (op Operation) Numbers() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		f, ok := raw.FloatValue(o)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// GraphicsState tracks the parts of the graphics state the tracer needs.
type GraphicsState struct {
	CTM   coords.Matrix
	stack []coords.Matrix
}

func NewGraphicsState() *GraphicsState {
	return &GraphicsState{CTM: coords.Identity()}
}

func (gs *GraphicsState) Save() { gs.stack = append(gs.stack, gs.CTM) }

func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	gs.CTM = gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Depth reports how many states are saved.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }
