package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/FrostLynn/frostlynnPDF/assemble"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// MergeResult is the merged file plus the sources that could not be used.
type MergeResult struct {
	Output   Output
	Pages    int
	Failures []*pdferr.ItemError
}

// Merge parses sources in parallel and assembles the selected pages into
// one file. A nil selection takes every page of every source in order.
//
// A source that fails to parse is reported in Failures and its pages are
// left out; the merge goes on with the rest. A selection naming a source
// index outside sources, or a page beyond a source's page count, fails the
// whole merge with pdferr.ErrIndexOutOfRange.
func (e *Engine) Merge(ctx context.Context, sources []Input, selection []assemble.PageSelection) (res *MergeResult, err error) {
	ctx, finish := e.span(ctx, "engine.Merge")
	defer finish(&err)

	if len(sources) == 0 {
		return nil, fmt.Errorf("merge: no sources: %w", pdferr.ErrEmptyInput)
	}
	for _, s := range selection {
		if s.Source < 0 || s.Source >= len(sources) {
			return nil, pdferr.OutOfRange("source", s.Source, len(sources))
		}
	}

	docs, failures, err := e.openAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	// Only parsed sources are handed to the assembler; index maps the
	// caller's source numbers onto them.
	index := make([]int, len(sources))
	var usable []*raw.Document
	for i, doc := range docs {
		index[i] = -1
		if doc != nil {
			index[i] = len(usable)
			usable = append(usable, doc)
		}
	}
	if len(usable) == 0 {
		errs := []error{fmt.Errorf("merge: no source could be read: %w", pdferr.ErrEmptyInput)}
		for _, f := range failures {
			errs = append(errs, f)
		}
		return nil, errors.Join(errs...)
	}

	var sel []assemble.PageSelection
	if selection == nil {
		for i, doc := range docs {
			if doc == nil {
				continue
			}
			n, err := pages.Count(doc)
			if err != nil {
				failures = append(failures, itemError(i, len(sources), sources[i], err))
				continue
			}
			for p := 0; p < n; p++ {
				sel = append(sel, assemble.PageSelection{Source: index[i], Page: p})
			}
		}
	} else {
		for _, s := range selection {
			if index[s.Source] < 0 {
				continue
			}
			sel = append(sel, assemble.PageSelection{Source: index[s.Source], Page: s.Page})
		}
	}

	merged, err := e.asm.Merge(ctx, usable, sel)
	if err != nil {
		return nil, err
	}
	data, err := e.serialize(ctx, merged)
	if err != nil {
		return nil, err
	}
	e.logger.Info("merged documents",
		observability.Int("sources", len(sources)),
		observability.Int("failed", len(failures)),
		observability.Int("pages", len(sel)),
		observability.Int("bytes", len(data)))
	return &MergeResult{
		Output:   Output{Name: "merged.pdf", Data: data},
		Pages:    len(sel),
		Failures: failures,
	}, nil
}

// openAll parses every input with at most Workers in flight. A nil entry
// in docs has a matching entry in failures. Only cancellation is returned
// as an error.
func (e *Engine) openAll(ctx context.Context, inputs []Input) ([]*raw.Document, []*pdferr.ItemError, error) {
	docs := make([]*raw.Document, len(inputs))
	errs := make([]error, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := e.Open(gctx, in.Data)
			if err != nil {
				errs[i] = err
				return nil
			}
			// Touch the page tree now so a broken one is reported as this
			// source's failure rather than mid-merge.
			if _, err := pages.Count(doc); err != nil {
				errs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var failures []*pdferr.ItemError
	for i, err := range errs {
		if err != nil {
			e.logger.Warn("skipping source",
				observability.String("name", inputs[i].Name),
				observability.Error("error", err))
			failures = append(failures, itemError(i, len(inputs), inputs[i], err))
		}
	}
	return docs, failures, nil
}
