package engine

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrostLynn/frostlynnPDF/assemble"
	"github.com/FrostLynn/frostlynnPDF/contentstream"
	"github.com/FrostLynn/frostlynnPDF/coords"
	"github.com/FrostLynn/frostlynnPDF/internal/testpdf"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/optimize"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/writer"
)

func newEngine() *Engine {
	return New(Config{Writer: writer.Config{Deterministic: true}, Workers: 2})
}

func input(name string, n int) Input {
	return Input{Name: name, Data: testpdf.Generate(testpdf.Options{Pages: n})}
}

// pageTexts returns the content of every page of data, in order.
func pageTexts(t *testing.T, e *Engine, data []byte) []string {
	t.Helper()
	doc, err := e.Open(context.Background(), data)
	require.NoError(t, err)
	var out []string
	for p, err := range pages.All(doc) {
		require.NoError(t, err)
		var b bytes.Buffer
		for _, ref := range p.Contents {
			obj, err := doc.Get(ref)
			require.NoError(t, err)
			b.Write(obj.(*raw.StreamObj).Data)
		}
		out = append(out, b.String())
	}
	return out
}

func TestOpenEmpty(t *testing.T) {
	_, err := newEngine().Open(context.Background(), nil)
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)
}

func TestMergeAllPages(t *testing.T) {
	e := newEngine()
	res, err := e.Merge(context.Background(), []Input{input("a.pdf", 2), input("b.pdf", 3)}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 5, res.Pages)
	assert.Equal(t, "merged.pdf", res.Output.Name)

	want := []string{
		testpdf.PageContent(0), testpdf.PageContent(1),
		testpdf.PageContent(0), testpdf.PageContent(1), testpdf.PageContent(2),
	}
	assert.Equal(t, want, pageTexts(t, e, res.Output.Data))
}

func TestMergeSelection(t *testing.T) {
	e := newEngine()
	sources := []Input{input("a.pdf", 2), input("b.pdf", 3)}
	res, err := e.Merge(context.Background(), sources, []assemble.PageSelection{
		{Source: 1, Page: 2}, {Source: 0, Page: 0}, {Source: 1, Page: 2},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{testpdf.PageContent(2), testpdf.PageContent(0), testpdf.PageContent(2)},
		pageTexts(t, e, res.Output.Data))
}

func TestMergeIsolatesBrokenSources(t *testing.T) {
	e := newEngine()
	sources := []Input{input("a.pdf", 1), {Name: "junk.pdf", Data: []byte("not a pdf at all")}, input("c.pdf", 2)}
	res, err := e.Merge(context.Background(), sources, nil)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, 3, res.Failures[0].Total)
	assert.Equal(t, "junk.pdf", res.Failures[0].Name)
	assert.Contains(t, res.Failures[0].Error(), "(2 of 3)")
	assert.Equal(t, 3, res.Pages)

	// Pages selected from the broken source are skipped.
	res, err = e.Merge(context.Background(), sources, []assemble.PageSelection{
		{Source: 1, Page: 0}, {Source: 2, Page: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{testpdf.PageContent(1)}, pageTexts(t, e, res.Output.Data))

	_, err = e.Merge(context.Background(), sources[1:2], nil)
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)
}

func TestMergeRejectsBadSelection(t *testing.T) {
	e := newEngine()
	sources := []Input{input("a.pdf", 2)}
	ctx := context.Background()

	_, err := e.Merge(ctx, sources, []assemble.PageSelection{{Source: 1, Page: 0}})
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)

	_, err = e.Merge(ctx, sources, []assemble.PageSelection{{Source: 0, Page: 2}})
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)

	_, err = e.Merge(ctx, nil, nil)
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)

	_, err = e.Merge(ctx, sources, []assemble.PageSelection{})
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Merge(cancelled, sources, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitAndMergeBack(t *testing.T) {
	e := newEngine()
	in := input("Report.PDF", 3)
	outs, err := e.Split(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, outs, 3)

	var back []Input
	for i, o := range outs {
		assert.Equal(t, "Report page-"+string(rune('1'+i))+".pdf", o.Name)
		assert.Equal(t, []string{testpdf.PageContent(i)}, pageTexts(t, e, o.Data))
		back = append(back, Input{Name: o.Name, Data: o.Data})
	}

	res, err := e.Merge(context.Background(), back, nil)
	require.NoError(t, err)
	assert.Equal(t, pageTexts(t, e, in.Data), pageTexts(t, e, res.Output.Data))
}

func TestSplitPage(t *testing.T) {
	e := newEngine()
	out, err := e.SplitPage(context.Background(), input("x.pdf", 2), 1)
	require.NoError(t, err)
	assert.Equal(t, "x page-2.pdf", out.Name)
	assert.Equal(t, []string{testpdf.PageContent(1)}, pageTexts(t, e, out.Data))

	_, err = e.SplitPage(context.Background(), input("x.pdf", 2), 2)
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)
}

func TestSplitBatch(t *testing.T) {
	e := newEngine()
	results := e.SplitBatch(context.Background(), []Input{
		{Name: "bad.pdf", Data: []byte("%PDF-1.7\ngarbage")},
		input("good.pdf", 2),
		{Name: "empty.pdf"},
	})
	require.Len(t, results, 3)

	var ie *pdferr.ItemError
	require.ErrorAs(t, results[0].Err, &ie)
	assert.Equal(t, 0, ie.Index)
	assert.NoError(t, results[1].Err)
	assert.Len(t, results[1].Outputs, 2)
	assert.ErrorIs(t, results[2].Err, pdferr.ErrEmptyInput)
}

func TestOverlayPlacesImage(t *testing.T) {
	e := newEngine()
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, image.NewGray(image.Rect(0, 0, 4, 2))))

	rect := TopLeftToPageSpace(792, 10, 20, 40, 20)
	assert.Equal(t, 752.0, rect.Y)
	out, err := e.Overlay(context.Background(), input("form.pdf", 2), OverlayRequest{Page: 1, Image: pngData.Bytes(), Rect: rect})
	require.NoError(t, err)
	assert.Equal(t, "form-signed.pdf", out.Name)

	doc, err := e.Open(context.Background(), out.Data)
	require.NoError(t, err)
	page, err := pages.At(doc, 1)
	require.NoError(t, err)
	ops, err := contentstream.PageOperations(context.Background(), doc, page, nil)
	require.NoError(t, err)
	draws, err := contentstream.NewTracer().Trace(ops)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, coords.Point{X: 10, Y: 752}, draws[0].Corners[0])
	assert.Equal(t, coords.Point{X: 50, Y: 772}, draws[0].Corners[3])

	first, err := pages.At(doc, 0)
	require.NoError(t, err)
	assert.Len(t, first.Contents, 1, "other pages are untouched")

	_, err = e.Overlay(context.Background(), input("form.pdf", 2), OverlayRequest{Page: 2, Image: pngData.Bytes(), Rect: rect})
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)

	_, err = e.Overlay(context.Background(), input("form.pdf", 2), OverlayRequest{DataURL: "data:image/jpeg;base64,AA==", Rect: rect})
	assert.ErrorIs(t, err, pdferr.ErrUnsupportedFeature)
}

func TestCompressDropsOrphans(t *testing.T) {
	e := newEngine()
	in := Input{Name: "fat.pdf", Data: testpdf.Generate(testpdf.Options{Pages: 2, Orphans: 40})}
	res, err := e.Compress(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, len(in.Data), res.OriginalSize)
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Positive(t, res.Savings())
	assert.GreaterOrEqual(t, res.Stats.Dropped, 40)
	assert.Equal(t, pageTexts(t, e, in.Data), pageTexts(t, e, res.Output.Data))

	again, err := e.Compress(context.Background(), Input{Name: "fat.pdf", Data: res.Output.Data})
	require.NoError(t, err)
	assert.Zero(t, again.Stats.Dropped)
	assert.Equal(t, res.Stats.After, again.Stats.After)
}

func TestCompressWithOptimizations(t *testing.T) {
	ctx := context.Background()
	e := New(Config{Optimize: optimize.DefaultConfig()})
	res, err := e.Compress(ctx, input("plain.pdf", 3))
	require.NoError(t, err)

	doc, err := e.Open(ctx, res.Output.Data)
	require.NoError(t, err)
	var shown []string
	for p, err := range pages.All(doc) {
		require.NoError(t, err)
		ops, err := contentstream.PageOperations(ctx, doc, p, nil)
		require.NoError(t, err)
		for _, op := range ops {
			if op.Operator == "Tj" {
				shown = append(shown, string(op.Operands[0].(raw.StringObj).Bytes))
			}
		}
	}
	assert.Equal(t, []string{"Page 1", "Page 2", "Page 3"}, shown)
}

func TestSavings(t *testing.T) {
	tests := []struct {
		before, after, want int
	}{
		{1000, 750, 25},
		{1000, 1000, 0},
		{1000, 1200, 0},
		{3, 2, 33},
		{0, 0, 0},
		{1000, 994, 1},
	}
	for _, tc := range tests {
		r := &CompressResult{OriginalSize: tc.before, CompressedSize: tc.after}
		assert.Equal(t, tc.want, r.Savings(), "%d -> %d", tc.before, tc.after)
	}
}

func TestCompressBatch(t *testing.T) {
	items := newEngine().CompressBatch(context.Background(), []Input{
		input("a.pdf", 1),
		{Name: "b.pdf", Data: []byte("junk")},
		input("c.pdf", 2),
	})
	require.Len(t, items, 3)
	assert.NoError(t, items[0].Err)
	assert.NotNil(t, items[0].Result)
	assert.Error(t, items[1].Err)
	assert.Nil(t, items[1].Result)
	assert.NoError(t, items[2].Err)
	assert.Equal(t, "c.pdf", items[2].Input)
}

func TestInspect(t *testing.T) {
	info, err := newEngine().Inspect(context.Background(), Input{Data: testpdf.Generate(testpdf.Options{Pages: 2, Title: "Hello"})})
	require.NoError(t, err)
	assert.Equal(t, "1.7", info.Version)
	assert.Equal(t, "Hello", info.Metadata.Title)
	require.Len(t, info.Pages, 2)
	assert.Equal(t, 612.0, info.Pages[0].MediaBox.Width())
	assert.Equal(t, 792.0, info.Pages[1].CropBox.Height())
	assert.Equal(t, 1, info.Pages[0].Streams)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a", BaseName("a.pdf"))
	assert.Equal(t, "a", BaseName("a.PDF"))
	assert.Equal(t, "a.txt", BaseName("a.txt"))
	assert.Equal(t, "pdf", BaseName("pdf"))
}
