package engine

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/optimize"
)

// CompressResult compares a repacked file with its original.
type CompressResult struct {
	Output         Output
	OriginalSize   int
	CompressedSize int
	Stats          optimize.Stats
}

// Savings is the size reduction in whole percent. A file that did not
// shrink saves 0.
func (r *CompressResult) Savings() int {
	diff := r.OriginalSize - r.CompressedSize
	if diff <= 0 || r.OriginalSize == 0 {
		return 0
	}
	return int(math.Round(float64(diff) / float64(r.OriginalSize) * 100))
}

// CompressItem is one entry of a CompressBatch.
type CompressItem struct {
	Input  string
	Result *CompressResult
	Err    error
}

// Compress repacks in. By default that means dropping every object the
// page tree no longer reaches and renumbering the rest; content is never
// re-encoded. Config.Optimize enables lossless extra passes.
func (e *Engine) Compress(ctx context.Context, in Input) (res *CompressResult, err error) {
	ctx, finish := e.span(ctx, "engine.Compress")
	defer finish(&err)

	doc, err := e.Open(ctx, in.Data)
	if err != nil {
		return nil, err
	}
	out, stats, err := optimize.New(e.cfg.Optimize).Optimize(ctx, doc)
	if err != nil {
		return nil, err
	}
	data, err := e.serialize(ctx, out)
	if err != nil {
		return nil, err
	}
	res = &CompressResult{
		Output:         Output{Name: in.Name, Data: data},
		OriginalSize:   len(in.Data),
		CompressedSize: len(data),
		Stats:          stats,
	}
	e.logger.Info("compressed document",
		observability.String("name", in.Name),
		observability.Int("before", res.OriginalSize),
		observability.Int("after", res.CompressedSize),
		observability.Int("dropped_objects", stats.Dropped))
	return res, nil
}

// CompressBatch compresses inputs in parallel. Each failure is isolated
// in its own item as a *pdferr.ItemError.
func (e *Engine) CompressBatch(ctx context.Context, inputs []Input) []CompressItem {
	items := make([]CompressItem, len(inputs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, in := range inputs {
		items[i].Input = in.Name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = itemError(i, len(inputs), in, err)
				return nil
			}
			res, err := e.Compress(ctx, in)
			if err != nil {
				items[i].Err = itemError(i, len(inputs), in, err)
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return items
}
