package parser

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrostLynn/frostlynnPDF/internal/testpdf"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/recovery"
	"github.com/FrostLynn/frostlynnPDF/xref"
)

func buildLoader(t *testing.T, data []byte, rec recovery.Strategy) ObjectLoader {
	t.Helper()
	reader := bytes.NewReader(data)
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), reader)
	require.NoError(t, err)
	loader, err := (&ObjectLoaderBuilder{}).WithReader(reader).WithXRef(table).WithRecovery(rec).Build()
	require.NoError(t, err)
	return loader
}

func TestObjectLoaderLoadsDirectObjects(t *testing.T) {
	loader := buildLoader(t, testpdf.Generate(testpdf.Options{Pages: 1}), nil)

	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: testpdf.FontNum})
	require.NoError(t, err)
	font, ok := obj.(*raw.DictObj)
	require.True(t, ok)
	base, _ := font.GetName("BaseFont")
	assert.Equal(t, "Helvetica", base)

	refs := loader.Refs()
	assert.Contains(t, refs, raw.ObjectRef{Num: testpdf.PageNum(0)})
	assert.NotContains(t, refs, raw.ObjectRef{Num: 0})
}

func TestObjectLoaderMissingAndWrongGeneration(t *testing.T) {
	loader := buildLoader(t, testpdf.Generate(testpdf.Options{Pages: 1}), nil)

	_, err := loader.Load(context.Background(), raw.ObjectRef{Num: 999})
	assert.ErrorIs(t, err, pdferr.ErrDanglingReference)

	_, err = loader.Load(context.Background(), raw.ObjectRef{Num: testpdf.CatalogNum, Gen: 3})
	assert.ErrorIs(t, err, pdferr.ErrDanglingReference)
}

func TestObjectLoaderObjectStreamMembers(t *testing.T) {
	loader := buildLoader(t, testpdf.Generate(testpdf.Options{Pages: 2, XRefStream: true}), nil)

	for i := 0; i < 2; i++ {
		obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: testpdf.PageNum(i)})
		require.NoError(t, err)
		page, ok := obj.(*raw.DictObj)
		require.True(t, ok)
		contents, _ := page.Get("Contents")
		assert.Equal(t, raw.Ref(testpdf.PageNum(i)+1, 0), contents)
	}

	// Compressed objects always have generation 0.
	_, err := loader.Load(context.Background(), raw.ObjectRef{Num: testpdf.PageNum(0), Gen: 1})
	assert.ErrorIs(t, err, pdferr.ErrDanglingReference)
}

func TestObjectLoaderUnsupportedObjectStreamFilter(t *testing.T) {
	b := testpdf.NewBuilder("1.7")
	b.Stream(3, "/Type /ObjStm /N 1 /First 4 /Filter /JBIG2Decode", []byte("1 0 << /Type /Catalog >>"))
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.XRefStream(4, "/Root 1 0 R")
	data := b.Bytes()

	reader := bytes.NewReader(data)
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), reader)
	require.NoError(t, err)
	loader, err := (&ObjectLoaderBuilder{}).WithReader(reader).WithXRef(&packedTable{Table: table, num: 1, stream: 3}).Build()
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), raw.ObjectRef{Num: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, pdferr.ErrUnsupportedFeature)
	assert.Contains(t, err.Error(), "JBIG2Decode")
}

// packedTable reports one extra object as living in an object stream.
type packedTable struct {
	xref.Table
	num, stream int
}

func (p *packedTable) ObjStream(n int) (int, int, bool) {
	if n == p.num {
		return p.stream, 0, true
	}
	return p.Table.ObjStream(n)
}

func TestObjectLoaderRebuildsOnHeaderMismatch(t *testing.T) {
	data := testpdf.Generate(testpdf.Options{Pages: 2})
	// Point the font's xref entry at the resources dictionary.
	good := fmt.Sprintf("%010d 00000 n", offsetOf(t, data, testpdf.FontNum))
	bad := fmt.Sprintf("%010d 00000 n", offsetOf(t, data, testpdf.ResourcesNum))
	data = bytes.Replace(data, []byte(good), []byte(bad), 1)

	rec := recovery.NewLenientStrategy()
	loader := buildLoader(t, data, rec)
	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: testpdf.FontNum})
	require.NoError(t, err)
	font := obj.(*raw.DictObj)
	typ, _ := font.GetName("Type")
	assert.Equal(t, "Font", typ)
	assert.Len(t, rec.Recorded(), 1)

	strict := buildLoader(t, data, recovery.NewStrictStrategy())
	_, err = strict.Load(context.Background(), raw.ObjectRef{Num: testpdf.FontNum})
	assert.Error(t, err)
}

func offsetOf(t *testing.T, data []byte, num int) int {
	t.Helper()
	i := bytes.Index(data, []byte(fmt.Sprintf("\n%d 0 obj", num)))
	require.GreaterOrEqual(t, i, 0)
	return i + 1
}

func TestObjectLoaderCancelled(t *testing.T) {
	loader := buildLoader(t, testpdf.Generate(testpdf.Options{Pages: 1}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Load(ctx, raw.ObjectRef{Num: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
