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
)

func parse(t *testing.T, data []byte, cfg Config) *raw.Document {
	t.Helper()
	doc, err := NewDocumentParser(cfg).Parse(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return doc
}

func TestDocumentParserParsesClassicXRef(t *testing.T) {
	doc := parse(t, buildClassicPDF(), Config{})

	require.NotNil(t, doc.Trailer)
	assert.Equal(t, "1.7", doc.Version)
	assert.Equal(t, []raw.ObjectRef{{Num: 1}, {Num: 2}}, doc.Refs())

	cat, err := doc.Catalog()
	require.NoError(t, err)
	typ, _ := cat.GetName("Type")
	assert.Equal(t, "Catalog", typ)
}

func TestDocumentParserFollowsPrevChain(t *testing.T) {
	doc := parse(t, buildIncrementalPDF(), Config{})

	obj, err := doc.Get(raw.ObjectRef{Num: 3})
	require.NoError(t, err, "incremental object")
	assert.IsType(t, &raw.DictObj{}, obj)

	pages, err := doc.ResolveDict(raw.Ref(2, 0))
	require.NoError(t, err)
	count, _ := pages.GetInt("Count")
	assert.Equal(t, int64(2), count, "updated object replaces the original")
}

func TestDocumentParserObjectStreams(t *testing.T) {
	doc := parse(t, testpdf.Generate(testpdf.Options{Pages: 3, XRefStream: true, Title: "Packed"}), Config{})

	page, err := doc.ResolveDict(raw.Ref(testpdf.PageNum(2), 0))
	require.NoError(t, err)
	typ, _ := page.GetName("Type")
	assert.Equal(t, "Page", typ)

	content, err := doc.Get(raw.ObjectRef{Num: testpdf.PageNum(2) + 1})
	require.NoError(t, err)
	stream, ok := content.(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, testpdf.PageContent(2), string(stream.Data))

	assert.Equal(t, "Packed", doc.Metadata.Title)
	assert.Equal(t, "testpdf", doc.Metadata.Producer)
}

func TestDocumentParserLazyLoading(t *testing.T) {
	data := testpdf.Generate(testpdf.Options{Pages: 1})
	// Corrupt an object body that nothing reads.
	data = bytes.Replace(data, []byte("/BaseFont /Helvetica"), []byte("/BaseFont <<<<<<<<<<"), 1)

	doc := parse(t, data, Config{Recovery: recovery.NewStrictStrategy()})
	_, err := doc.Catalog()
	require.NoError(t, err)

	_, err = doc.Get(raw.ObjectRef{Num: testpdf.FontNum})
	assert.Error(t, err, "the broken font is only noticed when read")
}

func TestDocumentParserRecoversBrokenXRef(t *testing.T) {
	data := testpdf.BreakStartXRef(testpdf.Generate(testpdf.Options{Pages: 2, Title: "Broken"}))

	rec := recovery.NewLenientStrategy()
	doc := parse(t, data, Config{Recovery: rec})
	assert.NotEmpty(t, rec.Recorded())
	assert.Equal(t, "Broken", doc.Metadata.Title)

	_, err := NewDocumentParser(Config{Recovery: recovery.NewStrictStrategy()}).
		Parse(context.Background(), bytes.NewReader(data))
	assert.ErrorIs(t, err, pdferr.ErrCorruptDocument)
}

func TestDocumentParserRepairsShiftedOffsets(t *testing.T) {
	// Prepending bytes leaves every xref offset wrong but startxref is
	// still found.
	data := testpdf.Generate(testpdf.Options{Pages: 2})
	shifted := append([]byte("%PDF-1.4\n% junk line\n"), data...)

	doc := parse(t, shifted, Config{})
	page, err := doc.ResolveDict(raw.Ref(testpdf.PageNum(1), 0))
	require.NoError(t, err)
	require.NotNil(t, page)
	typ, _ := page.GetName("Type")
	assert.Equal(t, "Page", typ)
}

func TestDocumentParserIndirectLength(t *testing.T) {
	b := testpdf.NewBuilder("1.5")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.RawObject(3, fmt.Sprintf("3 0 obj\n<< /Length 4 0 R >>\nstream\n%s\nendstream\nendobj\n", "q Q endstream-ish"))
	b.Object(4, "17")
	b.XRefTable("/Root 1 0 R")
	doc := parse(t, b.Bytes(), Config{})

	obj, err := doc.Get(raw.ObjectRef{Num: 3})
	require.NoError(t, err)
	stream, ok := obj.(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, "q Q endstream-ish", string(stream.Data))
	assert.Equal(t, "1.5", doc.Version)
}

func TestDocumentParserRejectsEncryption(t *testing.T) {
	data := testpdf.Generate(testpdf.Options{Pages: 1, Encrypted: true})
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, pdferr.ErrUnsupportedFeature)
	assert.Contains(t, err.Error(), "encryption")
}

func TestDocumentParserRejectsEncryptionFoundByScan(t *testing.T) {
	// The xref chain names a missing catalog, so the file is rescanned and
	// the last trailer, which declares encryption, is used.
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.XRefTable("/Root 9 0 R")
	b.Raw("trailer\n<< /Root 1 0 R /Encrypt << /Filter /Standard /V 2 /R 3 >> >>\n")

	_, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(b.Bytes()))
	require.Error(t, err)
	assert.ErrorIs(t, err, pdferr.ErrUnsupportedFeature)
	assert.Contains(t, err.Error(), "encryption")
}

func TestDocumentParserRejectsGarbage(t *testing.T) {
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader([]byte("hello, not a pdf")))
	assert.ErrorIs(t, err, pdferr.ErrCorruptDocument)
}

func TestDocumentParserDecodesUTF16Info(t *testing.T) {
	b := testpdf.NewBuilder("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Version /2.0 >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(3, "<< /Title <FEFF00C9007400E9> /Keywords (a, b,,c) >>")
	b.XRefTable("/Root 1 0 R /Info 3 0 R")

	doc := parse(t, b.Bytes(), Config{})
	assert.Equal(t, "Été", doc.Metadata.Title)
	assert.Equal(t, []string{"a", "b", "c"}, doc.Metadata.Keywords)
	assert.Equal(t, "2.0", doc.Version, "catalog /Version overrides an older header")
}

func TestDetectHeaderVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"%PDF-1.4\n", "1.4"},
		{"%PDF-2.0\r\n", "2.0"},
		{"junk%PDF-1.3\n", "1.3"},
		{"no header", "1.7"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, detectHeaderVersion(bytes.NewReader([]byte(tc.in))), tc.in)
	}
}

func buildClassicPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n")
	fmt.Fprintf(buf, "0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func buildIncrementalPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xref1 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref1)

	// Incremental update: replace object 2 and add object 3.
	off2b := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 2 >>\nendobj\n")

	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")

	xref2 := buf.Len()
	fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n%010d 00000 n \n", off2b, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\n", xref1)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xref2)
	return buf.Bytes()
}
