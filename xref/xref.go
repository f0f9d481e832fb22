// Package xref locates objects in a PDF file. It reads classic
// cross-reference tables, cross-reference streams and incremental update
// chains, and rebuilds the table by scanning the file when those are
// missing or damaged.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/recovery"
	"github.com/FrostLynn/frostlynnPDF/scanner"
)

// EntryType distinguishes the three kinds of cross-reference entries.
type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. For compressed entries Stream is the object
// stream number and Index the position inside it.
type Entry struct {
	Type   EntryType
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table holds object locations for a document.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (streamNum, index int, found bool)
	Objects() []int
	Type() string
	Trailer() *raw.DictObj
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Decoders     *filters.Pipeline
	Logger       observability.Logger
}

// Resolver locates and parses xref information in a PDF.
type Resolver struct {
	cfg        ResolverConfig
	trailer    *raw.DictObj
	repaired   bool
	linearized bool
	sections   int
}

// NewResolver returns a resolver for classic tables, xref streams and
// update chains.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	if cfg.Decoders == nil {
		cfg.Decoders = filters.NewDefaultPipeline(filters.Limits{})
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &Resolver{cfg: cfg}
}

// Trailer returns the merged trailer of the most recent resolution.
func (t *Resolver) Trailer() *raw.DictObj { return t.trailer }

// Repaired reports whether the last resolution fell back to a file scan.
func (t *Resolver) Repaired() bool { return t.repaired }

// Linearized reports whether the file starts with a linearization
// dictionary. Linearization is not preserved on output.
func (t *Resolver) Linearized() bool { return t.linearized }

// Sections reports how many xref sections the update chain contained.
func (t *Resolver) Sections() int { return t.sections }

// Resolve follows startxref through the /Prev chain. Any failure, or a
// trailer without /Root, triggers a full-file scan instead.
func (t *Resolver) Resolve(ctx context.Context, r io.ReaderAt) (Table, error) {
	t.repaired = false
	t.linearized = detectLinearized(r)
	tbl, err := t.resolveChain(ctx, r)
	if err == nil {
		err = tbl.validate()
	}
	if err == nil {
		t.trailer = tbl.trailer
		return tbl, nil
	}
	loc := recovery.Location{Component: "xref"}
	if !recovery.Decide(ctx, t.cfg.Recovery, err, loc).Continue() {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	t.cfg.Logger.Warn("rebuilding cross-reference table", observability.Error("cause", err))
	rep, rerr := Repair(ctx, r, t.cfg)
	if rerr != nil {
		return nil, fmt.Errorf("repair after %v: %w", err, rerr)
	}
	t.repaired = true
	t.trailer = rep.Trailer()
	return rep, nil
}

func (t *Resolver) resolveChain(ctx context.Context, r io.ReaderAt) (*table, error) {
	start, err := findStartXRef(r)
	if err != nil {
		return nil, err
	}
	merged := &table{entries: make(map[int]Entry), kind: "table"}
	visited := make(map[int64]bool)
	offset := start
	t.sections = 0
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= t.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain longer than %d sections", t.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("xref chain loops at offset %d", offset)
		}
		visited[offset] = true

		sec, err := t.readSection(ctx, r, offset)
		if err != nil {
			return nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		t.sections++
		if depth == 0 {
			merged.kind = sec.kind
		}
		merged.absorb(sec.entries)
		if merged.trailer == nil {
			merged.trailer = sec.trailer
		} else {
			for _, k := range sec.trailer.Keys() {
				if _, ok := merged.trailer.Get(k); !ok && k != "Prev" && k != "XRefStm" {
					merged.trailer.Set(k, sec.trailer.KV[k])
				}
			}
		}
		prev, ok := sec.trailer.GetInt("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	merged.trailer = stripStreamKeys(merged.trailer)
	return merged, nil
}

// readSection reads one classic table (with its optional hybrid /XRefStm)
// or one xref stream.
func (t *Resolver) readSection(ctx context.Context, r io.ReaderAt, offset int64) (*table, error) {
	s := scanner.New(r, scanner.Config{Recovery: t.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s, t.cfg.Recovery)
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		sec, err := readClassic(tr)
		if err != nil {
			return nil, err
		}
		if stmOff, ok := sec.trailer.GetInt("XRefStm"); ok {
			stm, err := t.readStreamAt(ctx, r, stmOff)
			if err != nil {
				return nil, fmt.Errorf("hybrid xref stream: %w", err)
			}
			// Objects the table marks free may live in the hybrid stream.
			for num, e := range stm.entries {
				if cur, ok := sec.entries[num]; !ok || cur.Type == EntryFree {
					sec.entries[num] = e
				}
			}
		}
		return sec, nil
	}
	tr.Unread(tok)
	return t.readStream(ctx, tr)
}

func (t *Resolver) readStreamAt(ctx context.Context, r io.ReaderAt, offset int64) (*table, error) {
	s := scanner.New(r, scanner.Config{Recovery: t.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	return t.readStream(ctx, raw.NewTokenReader(s, t.cfg.Recovery))
}

func (t *Resolver) readStream(ctx context.Context, tr *raw.TokenReader) (*table, error) {
	_, obj, err := tr.ReadIndirect(nil)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("xref offset does not point at a table or stream")
	}
	if typ, _ := st.Dict.GetName("Type"); typ != "XRef" {
		return nil, errors.New("stream at xref offset is not /Type /XRef")
	}
	data, err := filters.DecodeStream(ctx, t.cfg.Decoders, st)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	entries, err := parseStreamEntries(st.Dict, data)
	if err != nil {
		return nil, err
	}
	return &table{entries: entries, trailer: st.Dict, kind: "xref-stream"}, nil
}

// readClassic parses subsections after the "xref" keyword and the trailer
// dictionary that follows them.
func readClassic(tr *raw.TokenReader) (*table, error) {
	entries := make(map[int]Entry)
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		if first < 0 || count < 0 {
			return nil, fmt.Errorf("invalid xref subsection %d %d", first, count)
		}
		for i := 0; i < count; i++ {
			off, err1 := tr.Next()
			gen, err2 := tr.Next()
			kind, err3 := tr.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			if off.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid xref entry at offset %d", off.Pos)
			}
			num := first + i
			if _, dup := entries[num]; dup {
				continue
			}
			switch kind.Str {
			case "n":
				entries[num] = Entry{Type: EntryInUse, Offset: off.Int, Gen: int(gen.Int)}
			case "f":
				entries[num] = Entry{Type: EntryFree, Gen: int(gen.Int)}
			default:
				return nil, fmt.Errorf("invalid xref entry type %q", kind.Str)
			}
		}
	}
	obj, err := tr.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("trailer is not a dictionary")
	}
	return &table{entries: entries, trailer: trailer, kind: "table"}, nil
}

// parseStreamEntries decodes the binary rows of an xref stream using the
// /W field widths and /Index subsection ranges.
func parseStreamEntries(dict *raw.DictObj, data []byte) (map[int]Entry, error) {
	wObj, ok := dict.Get("W")
	wArr, isArr := wObj.(*raw.ArrayObj)
	if !ok || !isArr || wArr.Len() != 3 {
		return nil, errors.New("xref stream /W must have three entries")
	}
	var w [3]int
	for i, item := range wArr.Items {
		n, ok := raw.IntValue(item)
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("invalid /W width %v", item)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("xref stream row width is zero")
	}

	var index []int
	if idxObj, ok := dict.Get("Index"); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("invalid xref stream /Index")
		}
		for _, item := range arr.Items {
			n, _ := raw.IntValue(item)
			index = append(index, int(n))
		}
	} else {
		size, _ := dict.GetInt("Size")
		index = []int{0, int(size)}
	}

	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return entries, nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1) // a zero-width type field defaults to 1
			if w[0] > 0 {
				typ = readBigEndian(row[:w[0]])
			}
			f2 := readBigEndian(row[w[0] : w[0]+w[1]])
			f3 := readBigEndian(row[w[0]+w[1]:])
			num := first + j
			if _, dup := entries[num]; dup {
				continue
			}
			switch typ {
			case 0:
				entries[num] = Entry{Type: EntryFree, Gen: int(f3)}
			case 1:
				entries[num] = Entry{Type: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[num] = Entry{Type: EntryCompressed, Stream: int(f2), Index: int(f3)}
			default:
				// Unknown types are reserved and read as null references.
			}
		}
	}
	return entries, nil
}

func readBigEndian(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// findStartXRef reads the byte offset after the last startxref keyword.
func findStartXRef(r io.ReaderAt) (int64, error) {
	size := sizeOf(r)
	const tail = 4096
	from := size - tail
	if from < 0 {
		from = 0
	}
	buf := make([]byte, size-from)
	n, err := r.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	buf = buf[:n]
	idx := bytes.LastIndex(buf, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := bytes.TrimLeft(buf[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	offset, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if offset <= 0 || offset >= size {
		return 0, fmt.Errorf("xref offset out of range: %d", offset)
	}
	return offset, nil
}

func sizeOf(r io.ReaderAt) int64 {
	if s, ok := r.(interface{ Size() int64 }); ok {
		return s.Size()
	}
	return int64(len(readAll(r)))
}

func readAll(r io.ReaderAt) []byte {
	if b, ok := r.(interface{ Bytes() []byte }); ok {
		return b.Bytes()
	}
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}

func detectLinearized(r io.ReaderAt) bool {
	head := make([]byte, 1024)
	n, _ := r.ReadAt(head, 0)
	return bytes.Contains(head[:n], []byte("/Linearized"))
}

func stripStreamKeys(trailer *raw.DictObj) *raw.DictObj {
	out := trailer.Clone()
	for _, k := range []string{"Prev", "XRefStm", "Type", "W", "Index", "Length", "Filter", "DecodeParms"} {
		out.Delete(k)
	}
	return out
}

type table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
}

// absorb adds entries from an older section; entries already present,
// including free ones, take precedence.
func (t *table) absorb(older map[int]Entry) {
	for num, e := range older {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
}

// validate checks the merged trailer against the entries it describes.
func (t *table) validate() error {
	if _, ok := t.trailer.Get("Root"); !ok {
		return errors.New("trailer has no /Root")
	}
	size, ok := t.trailer.GetInt("Size")
	if !ok {
		return nil
	}
	for num, e := range t.entries {
		if e.Type != EntryFree && int64(num) >= size {
			return fmt.Errorf("object %d is beyond trailer /Size %d", num, size)
		}
	}
	return nil
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type != EntryInUse {
		return 0, 0, false
	}
	return e.Offset, e.Gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type != EntryCompressed {
		return 0, 0, false
	}
	return e.Stream, e.Index, true
}

// Objects lists the numbers of objects that are in use or compressed.
func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Type != EntryFree && k > 0 {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

func (t *table) Trailer() *raw.DictObj { return t.trailer }

// Entry returns the raw entry for objNum.
func (t *table) Entry(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}
