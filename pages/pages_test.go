package pages_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestAllInheritsFromPagesNode(t *testing.T) {
	doc := open(t, testpdf.Generate(testpdf.Options{Pages: 3}))

	list, err := pages.Collect(doc)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, p := range list {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, raw.ObjectRef{Num: testpdf.PageNum(i)}, p.Ref)
		assert.Equal(t, pages.Rectangle{URX: 612, URY: 792}, p.MediaBox)
		assert.Equal(t, p.MediaBox, p.CropBox)
		assert.Equal(t, 612.0, p.MediaBox.Width())
		assert.Equal(t, 792.0, p.MediaBox.Height())
		require.NotNil(t, p.Resources)
		_, ok := p.Resources.Get("Font")
		assert.True(t, ok)
		assert.Equal(t, []raw.ObjectRef{{Num: testpdf.PageNum(i) + 1}}, p.Contents)
		assert.Contains(t, p.Inherited, "MediaBox")
		assert.Contains(t, p.Inherited, "Resources")
	}
}

func TestAllIsRestartable(t *testing.T) {
	doc := open(t, testpdf.Generate(testpdf.Options{Pages: 4, XRefStream: true}))
	seq := pages.All(doc)

	var first, second []raw.ObjectRef
	for p, err := range seq {
		require.NoError(t, err)
		first = append(first, p.Ref)
		if len(first) == 2 {
			break
		}
	}
	for p, err := range seq {
		require.NoError(t, err)
		second = append(second, p.Ref)
	}
	assert.Equal(t, second[:2], first)
	assert.Len(t, second, 4)
}

// nested builds a two-level tree: root -> [page A, node -> [page B, page C]].
func nested(t *testing.T) *raw.Document {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 3 /MediaBox [0 0 200 100] /Rotate 90 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /Contents [7 0 R 8 0 R] >>")
	b.Object(4, "<< /Kids [5 0 R 6 0 R] /Count 2 /Parent 2 0 R /MediaBox [10 10 -10 300] >>")
	b.Object(5, "<< /Type /Page /Parent 4 0 R /Rotate 0 /Contents 9 0 R >>")
	b.Object(6, "<< /Parent 4 0 R /CropBox [0 0 5 5] >>")
	b.Stream(7, "", []byte("q"))
	b.Stream(8, "", []byte("Q"))
	b.Object(9, "[7 0 R 8 0 R 7 0 R]")
	b.XRefTable("/Root 1 0 R")
	return open(t, b.Bytes())
}

func TestAllNestedTree(t *testing.T) {
	list, err := pages.Collect(nested(t))
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, raw.ObjectRef{Num: 3}, list[0].Ref)
	assert.Equal(t, 90, list[0].Rotate)
	assert.Equal(t, pages.Rectangle{URX: 200, URY: 100}, list[0].MediaBox)
	assert.Equal(t, []raw.ObjectRef{{Num: 7}, {Num: 8}}, list[0].Contents)
	assert.Nil(t, list[0].Resources)

	assert.Equal(t, raw.ObjectRef{Num: 5}, list[1].Ref)
	assert.Equal(t, 0, list[1].Rotate, "own value beats ancestors")
	assert.Equal(t, pages.Rectangle{LLX: -10, LLY: 10, URX: 10, URY: 300}, list[1].MediaBox, "nearest ancestor, normalized")
	assert.Equal(t, []raw.ObjectRef{{Num: 7}, {Num: 8}, {Num: 7}}, list[1].Contents, "reference to an array keeps order")

	assert.Equal(t, raw.ObjectRef{Num: 6}, list[2].Ref, "a node without /Type or /Kids is a page")
	assert.Equal(t, pages.Rectangle{URX: 5, URY: 5}, list[2].CropBox)
	assert.Empty(t, list[2].Contents)
}

func TestAllOverrideStaysInSubtree(t *testing.T) {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R 5 0 R] /Count 2 /MediaBox [0 0 200 100] /Rotate 180 >>")
	b.Object(3, "<< /Type /Pages /Kids [4 0 R] /Count 1 /Parent 2 0 R /MediaBox [0 0 50 50] >>")
	b.Object(4, "<< /Type /Page /Parent 3 0 R >>")
	b.Object(5, "<< /Type /Page /Parent 2 0 R >>")
	b.XRefTable("/Root 1 0 R")

	list, err := pages.Collect(open(t, b.Bytes()))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, pages.Rectangle{URX: 50, URY: 50}, list[0].MediaBox)
	assert.Equal(t, 180, list[0].Rotate)
	assert.Equal(t, pages.Rectangle{URX: 200, URY: 100}, list[1].MediaBox, "sibling sees the root value")
	assert.Equal(t, 180, list[1].Rotate)
}

func TestAllMissingMediaBox(t *testing.T) {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R >>")
	b.XRefTable("/Root 1 0 R")

	_, err := pages.Collect(open(t, b.Bytes()))
	assert.ErrorIs(t, err, pdferr.ErrCorruptDocument)
}

func TestAllDetectsCycles(t *testing.T) {
	tests := map[string]string{
		"self":     "<< /Type /Pages /Kids [2 0 R] /Count 1 /MediaBox [0 0 1 1] >>",
		"revisit":  "<< /Type /Pages /Kids [3 0 R 3 0 R] /Count 2 /MediaBox [0 0 1 1] >>",
		"ancestor": "<< /Type /Pages /Kids [4 0 R] /Count 1 /MediaBox [0 0 1 1] >>",
	}
	for name, root := range tests {
		t.Run(name, func(t *testing.T) {
			b := testpdf.NewBuilder("1.7")
			b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
			b.Object(2, root)
			b.Object(3, "<< /Type /Page /Parent 2 0 R >>")
			b.Object(4, "<< /Type /Pages /Kids [2 0 R] /Parent 2 0 R >>")
			b.XRefTable("/Root 1 0 R")

			n := 0
			var last error
			for _, err := range pages.All(open(t, b.Bytes())) {
				n++
				last = err
			}
			assert.ErrorIs(t, last, pdferr.ErrCorruptDocument)
			assert.LessOrEqual(t, n, 2, "the walk terminates")
		})
	}
}

func TestWalkerDepthLimit(t *testing.T) {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R] /MediaBox [0 0 1 1] >>")
	b.Object(3, "<< /Type /Pages /Kids [4 0 R] >>")
	b.Object(4, "<< /Type /Pages /Kids [5 0 R] >>")
	b.Object(5, "<< /Type /Page >>")
	b.XRefTable("/Root 1 0 R")
	doc := open(t, b.Bytes())

	var err error
	for _, err = range (pages.Walker{MaxDepth: 2}).All(doc) {
	}
	assert.ErrorIs(t, err, pdferr.ErrCorruptDocument)

	n, err := pages.Count(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAtAndCount(t *testing.T) {
	doc := open(t, testpdf.Generate(testpdf.Options{Pages: 5}))

	n, err := pages.Count(doc)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	p, err := pages.At(doc, 4)
	require.NoError(t, err)
	assert.Equal(t, raw.ObjectRef{Num: testpdf.PageNum(4)}, p.Ref)

	for _, i := range []int{-1, 5, 100} {
		_, err := pages.At(doc, i)
		var ie *pdferr.IndexError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, 5, ie.Len)
		assert.ErrorIs(t, err, pdferr.ErrIndexOutOfRange)
	}
}

func TestAllOnFreshDocument(t *testing.T) {
	n, err := pages.Count(raw.NewDocument())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRectangleArray(t *testing.T) {
	arr := pages.Rectangle{LLX: 0, LLY: 0, URX: 612.5, URY: 792}.Array()
	require.Equal(t, 4, arr.Len())
	assert.Equal(t, raw.NumberInt(0), arr.Items[0])
	assert.Equal(t, raw.NumberFloat(612.5), arr.Items[2])
	assert.Equal(t, raw.NumberInt(792), arr.Items[3])
}
