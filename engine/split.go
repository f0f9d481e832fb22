package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// SplitResult is the outcome of splitting one file of a batch.
type SplitResult struct {
	Input   string
	Outputs []Output
	Err     error
}

// Split writes each page of in as its own file, named "<base> page-<n>.pdf"
// with n counted from 1. Pages are extracted in parallel; they only read
// the shared source document.
func (e *Engine) Split(ctx context.Context, in Input) (out []Output, err error) {
	ctx, finish := e.span(ctx, "engine.Split")
	defer finish(&err)

	src, err := e.Open(ctx, in.Data)
	if err != nil {
		return nil, err
	}
	n, err := pages.Count(src)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("split %s: document has no pages: %w", in.Name, pdferr.ErrEmptyInput)
	}

	base := BaseName(in.Name)
	out = make([]Output, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range out {
		g.Go(func() error {
			doc, err := e.asm.Split(gctx, src, i)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			data, err := e.serialize(gctx, doc)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			out[i] = Output{Name: fmt.Sprintf("%s page-%d.pdf", base, i+1), Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.logger.Info("split document",
		observability.String("name", in.Name),
		observability.Int("pages", n))
	return out, nil
}

// SplitPage extracts page i (zero based) of in.
func (e *Engine) SplitPage(ctx context.Context, in Input, i int) (Output, error) {
	src, err := e.Open(ctx, in.Data)
	if err != nil {
		return Output{}, err
	}
	doc, err := e.asm.Split(ctx, src, i)
	if err != nil {
		return Output{}, err
	}
	data, err := e.serialize(ctx, doc)
	if err != nil {
		return Output{}, err
	}
	return Output{Name: fmt.Sprintf("%s page-%d.pdf", BaseName(in.Name), i+1), Data: data}, nil
}

// SplitBatch splits every input. A failing input gets a *pdferr.ItemError
// in its result and does not affect the others. Inputs are processed in
// order; cancellation stops the batch between inputs.
func (e *Engine) SplitBatch(ctx context.Context, inputs []Input) []SplitResult {
	results := make([]SplitResult, len(inputs))
	for i, in := range inputs {
		results[i].Input = in.Name
		if err := ctx.Err(); err != nil {
			results[i].Err = itemError(i, len(inputs), in, err)
			continue
		}
		outs, err := e.Split(ctx, in)
		if err != nil {
			results[i].Err = itemError(i, len(inputs), in, err)
			continue
		}
		results[i].Outputs = outs
	}
	return results
}
