// Package testpdf writes small PDF files for tests. Offsets are tracked as
// objects are written so the generated cross-reference data is exact.
package testpdf

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/filters"
)

// Builder appends objects and cross-reference sections to a buffer.
type Builder struct {
	buf      bytes.Buffer
	offsets  map[int]int64
	packed   map[int][2]int
	section  []int
	lastXRef int64
	maxNum   int
}

// NewBuilder starts a file with the given header version.
func NewBuilder(version string) *Builder {
	b := &Builder{offsets: make(map[int]int64), packed: make(map[int][2]int)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)
	return b
}

func (b *Builder) track(num int) {
	b.offsets[num] = int64(b.buf.Len())
	b.section = append(b.section, num)
	b.maxNum = max(b.maxNum, num)
}

// Object writes "num 0 obj body endobj".
func (b *Builder) Object(num int, body string) *Builder {
	b.track(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return b
}

// Stream writes a stream object. dict is the dictionary body without the
// surrounding << >> and without /Length.
func (b *Builder) Stream(num int, dict string, data []byte) *Builder {
	b.track(num)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return b
}

// ObjectStream packs the bodies into a Flate-compressed object stream with
// number num. bodies maps object numbers to their direct values.
func (b *Builder) ObjectStream(num int, bodies map[int]string) *Builder {
	nums := make([]int, 0, len(bodies))
	for n := range bodies {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	var header, body strings.Builder
	for i, n := range nums {
		fmt.Fprintf(&header, "%d %d ", n, body.Len())
		body.WriteString(bodies[n])
		body.WriteString("\n")
		b.packed[n] = [2]int{num, i}
		b.section = append(b.section, n)
		b.maxNum = max(b.maxNum, n)
	}
	data := header.String() + body.String()
	enc, err := filters.EncodeFlate([]byte(data))
	if err != nil {
		panic(err)
	}
	return b.Stream(num, fmt.Sprintf("/Type /ObjStm /N %d /First %d /Filter /FlateDecode", len(nums), header.Len()), enc)
}

// Offset returns where object num was last written.
func (b *Builder) Offset(num int) int64 { return b.offsets[num] }

// RawObject writes a complete "num 0 obj ... endobj" text verbatim and
// indexes it under num.
func (b *Builder) RawObject(num int, text string) *Builder {
	b.track(num)
	b.buf.WriteString(text)
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// XRefTable ends the current revision with a classic table. trailer holds
// extra trailer entries; /Size and /Prev are added.
func (b *Builder) XRefTable(trailer string) *Builder {
	start := int64(b.buf.Len())
	b.buf.WriteString("xref\n")
	if b.lastXRef == 0 {
		fmt.Fprintf(&b.buf, "0 %d\n0000000000 65535 f \n", b.maxNum+1)
		for n := 1; n <= b.maxNum; n++ {
			if off, ok := b.offsets[n]; ok {
				fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
			} else {
				b.buf.WriteString("0000000000 00001 f \n")
			}
		}
	} else {
		nums := slices.Clone(b.section)
		slices.Sort(nums)
		nums = slices.Compact(nums)
		for _, n := range nums {
			fmt.Fprintf(&b.buf, "%d 1\n%010d 00000 n \n", n, b.offsets[n])
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d %s%s >>\n", b.maxNum+1, trailer, b.prevEntry())
	b.finish(start)
	return b
}

// XRefStream ends the current revision with a cross-reference stream stored
// as object num. Rows use /W [1 4 2] and are PNG Up predicted.
func (b *Builder) XRefStream(num int, trailer string) *Builder {
	b.track(num)
	size := b.maxNum + 1
	const cols = 7
	rows := make([][]byte, size)
	for n := 0; n < size; n++ {
		row := make([]byte, cols)
		switch {
		case n == 0:
			putRow(row, 0, 0, 65535)
		case b.packed[n] != [2]int{} && !b.hasDirect(n):
			putRow(row, 2, int64(b.packed[n][0]), b.packed[n][1])
		default:
			if off, ok := b.offsets[n]; ok {
				putRow(row, 1, off, 0)
			} else {
				putRow(row, 0, 0, 1)
			}
		}
		rows[n] = row
	}
	var predicted []byte
	prev := make([]byte, cols)
	for _, row := range rows {
		predicted = append(predicted, 2)
		for i := range row {
			predicted = append(predicted, row[i]-prev[i])
		}
		prev = row
	}
	enc, err := filters.EncodeFlate(predicted)
	if err != nil {
		panic(err)
	}
	start := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Filter /FlateDecode /DecodeParms << /Predictor 12 /Columns %d >> %s%s /Length %d >>\nstream\n",
		num, size, cols, trailer, b.prevEntry(), len(enc))
	b.buf.Write(enc)
	b.buf.WriteString("\nendstream\nendobj\n")
	b.finish(start)
	return b
}

func (b *Builder) hasDirect(n int) bool {
	_, ok := b.offsets[n]
	return ok
}

func putRow(row []byte, typ byte, f2 int64, f3 int) {
	row[0] = typ
	row[1] = byte(f2 >> 24)
	row[2] = byte(f2 >> 16)
	row[3] = byte(f2 >> 8)
	row[4] = byte(f2)
	row[5] = byte(f3 >> 8)
	row[6] = byte(f3)
}

func (b *Builder) prevEntry() string {
	if b.lastXRef == 0 {
		return ""
	}
	return fmt.Sprintf(" /Prev %d", b.lastXRef)
}

func (b *Builder) finish(start int64) {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", start)
	b.lastXRef = start
	b.section = nil
}

// Bytes returns a copy of everything written so far.
func (b *Builder) Bytes() []byte { return bytes.Clone(b.buf.Bytes()) }

// Options describes a generated document.
type Options struct {
	Pages      int
	Orphans    int    // unreachable objects appended to the file
	XRefStream bool   // pack dictionaries into an object stream
	Title      string // Info /Title; empty omits the Info dictionary
	Encrypted  bool   // adds an /Encrypt entry to the trailer
	Compressed bool   // Flate-compress page content
}

// Layout of generated documents. Page i lives at PageNum(i) and its
// content at PageNum(i)+1.
const (
	CatalogNum   = 1
	PagesNum     = 2
	ResourcesNum = 3
	FontNum      = 4
	InfoNum      = 5
	firstPageNum = 6
)

// PageNum returns the object number of page i.
func PageNum(i int) int { return firstPageNum + 2*i }

// PageContent is the text drawn on page i (zero based).
func PageContent(i int) string {
	return fmt.Sprintf("BT /F1 24 Tf 72 720 Td (Page %d) Tj ET", i+1)
}

// Generate builds a document with a single-level page tree. MediaBox and
// Resources are set on the Pages node and inherited by every page.
func Generate(opts Options) []byte {
	b := NewBuilder("1.7")
	kids := make([]string, opts.Pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", PageNum(i))
	}
	dicts := map[int]string{
		CatalogNum:   fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", PagesNum),
		PagesNum:     fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] /Resources %d 0 R >>", strings.Join(kids, " "), opts.Pages, ResourcesNum),
		ResourcesNum: fmt.Sprintf("<< /Font << /F1 %d 0 R >> >>", FontNum),
		FontNum:      "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	if opts.Title != "" {
		dicts[InfoNum] = fmt.Sprintf("<< /Title (%s) /Producer (testpdf) >>", opts.Title)
	}
	for i := 0; i < opts.Pages; i++ {
		dicts[PageNum(i)] = fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Contents %d 0 R >>", PagesNum, PageNum(i)+1)
	}
	next := PageNum(opts.Pages)
	for i := 0; i < opts.Orphans; i++ {
		dicts[next] = fmt.Sprintf("<< /Orphan %d >>", i)
		next++
	}

	if opts.XRefStream {
		b.ObjectStream(next, dicts)
		next++
	} else {
		nums := make([]int, 0, len(dicts))
		for n := range dicts {
			nums = append(nums, n)
		}
		slices.Sort(nums)
		for _, n := range nums {
			b.Object(n, dicts[n])
		}
	}
	for i := 0; i < opts.Pages; i++ {
		content := []byte(PageContent(i))
		if opts.Compressed {
			enc, err := filters.EncodeFlate(content)
			if err != nil {
				panic(err)
			}
			b.Stream(PageNum(i)+1, "/Filter /FlateDecode", enc)
		} else {
			b.Stream(PageNum(i)+1, "", content)
		}
	}

	trailer := fmt.Sprintf("/Root %d 0 R", CatalogNum)
	if opts.Title != "" {
		trailer += fmt.Sprintf(" /Info %d 0 R", InfoNum)
	}
	if opts.Encrypted {
		trailer += " /Encrypt << /Filter /Standard /V 2 /R 3 >>"
	}
	if opts.XRefStream {
		b.XRefStream(next, trailer)
	} else {
		b.XRefTable(trailer)
	}
	return b.Bytes()
}

// BreakStartXRef points startxref past the end of the file so readers
// must rebuild the cross-reference table.
func BreakStartXRef(data []byte) []byte {
	i := bytes.LastIndex(data, []byte("startxref"))
	if i < 0 {
		return bytes.Clone(data)
	}
	out := bytes.Clone(data[:i])
	out = append(out, "startxref\n999999999\n%%EOF\n"...)
	return out
}

// StripXRef removes everything from the last xref keyword onwards and
// appends a bare trailer, leaving no usable startxref.
func StripXRef(data []byte) []byte {
	i := bytes.LastIndex(data, []byte("\nxref\n"))
	if i < 0 {
		return bytes.Clone(data)
	}
	return append(bytes.Clone(data[:i+1]), "%%EOF\n"...)
}
