package assemble_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrostLynn/frostlynnPDF/assemble"
	"github.com/FrostLynn/frostlynnPDF/internal/testpdf"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/parser"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

func open(t *testing.T, data []byte) *raw.Document {
	t.Helper()
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return doc
}

func contentOf(t *testing.T, doc *raw.Document, p pages.Page) string {
	t.Helper()
	require.Len(t, p.Contents, 1)
	obj, err := doc.Get(p.Contents[0])
	require.NoError(t, err)
	return string(obj.(*raw.StreamObj).Data)
}

func TestMergeAllPages(t *testing.T) {
	a := open(t, testpdf.Generate(testpdf.Options{Pages: 2}))
	b := open(t, testpdf.Generate(testpdf.Options{Pages: 3, XRefStream: true}))
	sources := []*raw.Document{a, b}

	sel, err := assemble.AllPages(sources)
	require.NoError(t, err)
	require.Len(t, sel, 5)

	out, err := assemble.New(assemble.Config{Producer: "frostpdf"}).Merge(context.Background(), sources, sel)
	require.NoError(t, err)

	list, err := pages.Collect(out)
	require.NoError(t, err)
	require.Len(t, list, 5)
	want := []int{0, 1, 0, 1, 2}
	for i, p := range list {
		assert.Equal(t, testpdf.PageContent(want[i]), contentOf(t, out, p))
		assert.Equal(t, pages.Rectangle{URX: 612, URY: 792}, p.MediaBox)
		assert.Empty(t, p.Inherited, "inherited attributes are flattened onto the page")
		parent, _ := p.Dict.Get("Parent")
		root, err := out.PagesRoot()
		require.NoError(t, err)
		assert.Equal(t, raw.RefObj{R: root}, parent)
	}

	root, _ := out.ResolveDict(mustRoot(t, out))
	count, _ := root.GetInt("Count")
	assert.Equal(t, int64(5), count)
	assert.Equal(t, "frostpdf", out.Metadata.Producer)
	_, ok := out.Trailer.Get("Info")
	assert.True(t, ok)

	// Sources are left untouched.
	n, err := pages.Count(a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func mustRoot(t *testing.T, doc *raw.Document) raw.Object {
	t.Helper()
	r, err := doc.PagesRoot()
	require.NoError(t, err)
	return raw.RefObj{R: r}
}

func TestMergeSelectionOrderAndDuplicates(t *testing.T) {
	src := open(t, testpdf.Generate(testpdf.Options{Pages: 3}))
	sel := []assemble.PageSelection{{0, 2}, {0, 0}, {0, 2}}

	out, err := assemble.New(assemble.Config{}).Merge(context.Background(), []*raw.Document{src}, sel)
	require.NoError(t, err)
	list, err := pages.Collect(out)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, testpdf.PageContent(2), contentOf(t, out, list[0]))
	assert.Equal(t, testpdf.PageContent(0), contentOf(t, out, list[1]))
	assert.Equal(t, testpdf.PageContent(2), contentOf(t, out, list[2]))
	assert.NotEqual(t, list[0].Ref, list[2].Ref, "duplicates are distinct page objects")
	assert.Equal(t, list[0].Contents, list[2].Contents, "and share their content")

	res0, _ := list[0].Dict.Get("Resources")
	res1, _ := list[1].Dict.Get("Resources")
	assert.Equal(t, res0, res1, "shared resources are copied once")
}

func TestMergeValidation(t *testing.T) {
	src := open(t, testpdf.Generate(testpdf.Options{Pages: 2}))
	asm := assemble.New(assemble.Config{})
	ctx := context.Background()

	_, err := asm.Merge(ctx, nil, []assemble.PageSelection{{0, 0}})
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)

	_, err = asm.Merge(ctx, []*raw.Document{src}, nil)
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)

	_, err = asm.Merge(ctx, []*raw.Document{src}, []assemble.PageSelection{{0, 0}, {1, 0}})
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)

	_, err = asm.Merge(ctx, []*raw.Document{src}, []assemble.PageSelection{{0, 0}, {0, 2}})
	var ie *pdferr.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "page", ie.Kind)
	assert.Equal(t, 2, ie.Len)

	_, err = asm.Merge(ctx, []*raw.Document{src}, []assemble.PageSelection{{0, -1}})
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)
}

// linked builds a three page document whose first page links to the third
// through an annotation and carries a dangling reference.
func linked(t *testing.T) *raw.Document {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Outlines 9 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 100 100] >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /Annots [6 0 R] /Contents 7 0 R /Extra 99 0 R >>")
	b.Object(4, "<< /Type /Page /Parent 2 0 R >>")
	b.Object(5, "<< /Type /Page /Parent 2 0 R >>")
	b.Object(6, "<< /Type /Annot /Subtype /Link /P 3 0 R /Dest [5 0 R /Fit] /Rect [0 0 10 10] >>")
	b.Stream(7, "", []byte("0 0 m"))
	b.Object(9, "<< /Type /Outlines /Count 0 /Parent 1 0 R >>")
	b.XRefTable("/Root 1 0 R")
	return open(t, b.Bytes())
}

func TestSplitDoesNotDragSourceTree(t *testing.T) {
	src := linked(t)
	out, err := assemble.New(assemble.Config{}).Split(context.Background(), src, 0)
	require.NoError(t, err)

	list, err := pages.Collect(out)
	require.NoError(t, err)
	require.Len(t, list, 1)
	page := list[0]

	extra, _ := page.Dict.Get("Extra")
	assert.Equal(t, raw.NullObj{}, extra, "dangling references become null")

	annots, _ := page.Dict.Get("Annots")
	arr := annots.(*raw.ArrayObj)
	require.Equal(t, 1, arr.Len())
	annot, err := out.ResolveDict(arr.Items[0])
	require.NoError(t, err)
	p, _ := annot.Get("P")
	assert.Equal(t, raw.RefObj{R: page.Ref}, p, "reference to a selected page follows the copy")
	dest, _ := annot.Get("Dest")
	assert.Equal(t, raw.NullObj{}, dest.(*raw.ArrayObj).Items[0], "unselected page becomes null")

	// Catalog, pages root, one page, one annotation, one content stream.
	assert.Len(t, out.Refs(), 5)
}

func TestSplitAll(t *testing.T) {
	src := open(t, testpdf.Generate(testpdf.Options{Pages: 4, Compressed: true}))
	asm := assemble.New(assemble.Config{})

	docs, err := asm.SplitAll(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, docs, 4)
	for i, doc := range docs {
		p, err := pages.At(doc, 0)
		require.NoError(t, err)
		require.Len(t, p.Contents, 1)
		orig, err := pages.At(src, i)
		require.NoError(t, err)
		a, _ := src.Get(orig.Contents[0])
		b, _ := doc.Get(p.Contents[0])
		assert.Equal(t, a.(*raw.StreamObj).Data, b.(*raw.StreamObj).Data, "encoded content is carried unchanged")
	}

	_, err = asm.Split(context.Background(), src, 4)
	assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)

	_, err = asm.SplitAll(context.Background(), raw.NewDocument())
	assert.ErrorIs(t, err, pdferr.ErrEmptyInput)
}

func TestMergeCancelled(t *testing.T) {
	src := open(t, testpdf.Generate(testpdf.Options{Pages: 2}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := assemble.New(assemble.Config{}).Merge(ctx, []*raw.Document{src}, []assemble.PageSelection{{0, 0}})
	assert.ErrorIs(t, err, context.Canceled)
}
