// Package assemble builds new documents out of pages of existing ones.
package assemble

import (
	"context"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// PageSelection picks page Page (zero based) of source Source.
type PageSelection struct {
	Source int
	Page   int
}

// Config controls the documents the assembler produces.
type Config struct {
	// Producer is written to the output's Info dictionary when set.
	Producer string
	Logger   observability.Logger
}

// Assembler merges and splits documents.
type Assembler struct {
	cfg Config
}

func New(cfg Config) *Assembler {
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &Assembler{cfg: cfg}
}

// AllPages selects every page of every source, sources in order.
func AllPages(sources []*raw.Document) ([]PageSelection, error) {
	var sel []PageSelection
	for i, doc := range sources {
		n, err := pages.Count(doc)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		for p := 0; p < n; p++ {
			sel = append(sel, PageSelection{Source: i, Page: p})
		}
	}
	return sel, nil
}

// Merge copies the selected pages, in selection order, into a new
// document. The selection is validated before anything is copied, so an
// invalid selection never yields partial output. Selecting a page twice
// produces two page objects that share everything else.
//
// Sources are only read. Each is copied through its own Copier, so objects
// shared by several pages of one source are copied once.
func (a *Assembler) Merge(ctx context.Context, sources []*raw.Document, selection []PageSelection) (*raw.Document, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("merge: no sources: %w", pdferr.ErrEmptyInput)
	}
	if len(selection) == 0 {
		return nil, fmt.Errorf("merge: no pages selected: %w", pdferr.ErrEmptyInput)
	}

	trees := make(map[int][]pages.Page)
	for _, s := range selection {
		if s.Source < 0 || s.Source >= len(sources) {
			return nil, pdferr.OutOfRange("source", s.Source, len(sources))
		}
		list, ok := trees[s.Source]
		if !ok {
			var err error
			list, err = pages.Collect(sources[s.Source])
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", s.Source, err)
			}
			trees[s.Source] = list
		}
		if s.Page < 0 || s.Page >= len(list) {
			return nil, fmt.Errorf("source %d: %w", s.Source, pdferr.OutOfRange("page", s.Page, len(list)))
		}
	}

	dst := raw.NewDocument()
	root, err := dst.PagesRoot()
	if err != nil {
		return nil, err
	}
	copiers := make(map[int]*Copier)
	targets := make([]raw.ObjectRef, len(selection))
	for i, s := range selection {
		c, ok := copiers[s.Source]
		if !ok {
			c = NewCopier(sources[s.Source], dst, trees[s.Source], a.cfg.Logger)
			copiers[s.Source] = c
		}
		if targets[i], err = c.ReservePage(trees[s.Source][s.Page].Ref); err != nil {
			return nil, err
		}
	}

	kids := raw.NewArray()
	for i, s := range selection {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := trees[s.Source][s.Page]
		if err := copiers[s.Source].CopyPage(page, targets[i], root); err != nil {
			return nil, fmt.Errorf("source %d page %d: %w", s.Source, s.Page, err)
		}
		kids.Append(raw.RefObj{R: targets[i]})
	}

	rootDict, err := dst.ResolveDict(raw.RefObj{R: root})
	if err != nil {
		return nil, err
	}
	rootDict.Set("Kids", kids)
	rootDict.Set("Count", raw.NumberInt(int64(kids.Len())))

	if err := a.stampProducer(dst); err != nil {
		return nil, err
	}
	copied := 0
	for _, c := range copiers {
		copied += c.Copied()
	}
	a.cfg.Logger.Debug("assembled document",
		observability.Int("sources", len(copiers)),
		observability.Int("pages", kids.Len()),
		observability.Int("objects", copied))
	return dst, nil
}

// Split returns a new document holding only page i of src.
func (a *Assembler) Split(ctx context.Context, src *raw.Document, i int) (*raw.Document, error) {
	return a.Merge(ctx, []*raw.Document{src}, []PageSelection{{Source: 0, Page: i}})
}

// SplitAll returns one single-page document per page of src, in order.
func (a *Assembler) SplitAll(ctx context.Context, src *raw.Document) ([]*raw.Document, error) {
	n, err := pages.Count(src)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("split: document has no pages: %w", pdferr.ErrEmptyInput)
	}
	out := make([]*raw.Document, n)
	for i := range out {
		if out[i], err = a.Split(ctx, src, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *Assembler) stampProducer(doc *raw.Document) error {
	if a.cfg.Producer == "" {
		return nil
	}
	info := raw.Dict()
	info.Set("Producer", raw.EncodeText(a.cfg.Producer))
	ref, err := doc.Allocate(info)
	if err != nil {
		return err
	}
	doc.Trailer.Set("Info", raw.RefObj{R: ref})
	doc.Metadata.Producer = a.cfg.Producer
	return nil
}
