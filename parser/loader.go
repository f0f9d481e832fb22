package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/recovery"
	"github.com/FrostLynn/frostlynnPDF/scanner"
	"github.com/FrostLynn/frostlynnPDF/security"
	"github.com/FrostLynn/frostlynnPDF/xref"
)

// errHeaderMismatch marks an xref offset that does not point at the
// expected "N G obj" header.
var errHeaderMismatch = errors.New("object header does not match xref entry")

// ObjectLoader reads objects on demand. It implements raw.Loader.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	Refs() []raw.ObjectRef
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
	decoders  *filters.Pipeline
	logger    observability.Logger
	repaired  bool
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}
func (b *ObjectLoaderBuilder) WithLogger(l observability.Logger) *ObjectLoaderBuilder {
	b.logger = l
	return b
}

// Repaired tells the loader its table already came from a file scan, so a
// header mismatch is not worth another scan.
func (b *ObjectLoaderBuilder) Repaired(v bool) *ObjectLoaderBuilder {
	b.repaired = v
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	dec := b.decoders
	if dec == nil {
		dec = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		limits:    limits,
		recovery:  b.recovery,
		decoders:  dec,
		logger:    observability.OrNop(b.logger),
		repaired:  b.repaired,
		objstm:    make(map[int]*objectStream),
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	limits    security.Limits
	recovery  recovery.Strategy
	decoders  *filters.Pipeline
	logger    observability.Logger
	repaired  bool

	mu     sync.Mutex
	objstm map[int]*objectStream
}

// objectStream caches a decoded /Type /ObjStm payload.
type objectStream struct {
	data    []byte
	first   int
	nums    []int
	offsets []int
	parsed  map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, ref, 0)
}

// Refs lists every object the table can produce.
func (o *objectLoader) Refs() []raw.ObjectRef {
	o.mu.Lock()
	defer o.mu.Unlock()
	nums := o.xrefTable.Objects()
	out := make([]raw.ObjectRef, 0, len(nums))
	for _, n := range nums {
		if _, gen, ok := o.xrefTable.Lookup(n); ok {
			out = append(out, raw.ObjectRef{Num: n, Gen: gen})
			continue
		}
		if _, _, ok := o.xrefTable.ObjStream(n); ok {
			out = append(out, raw.ObjectRef{Num: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// load assumes the caller holds o.mu.
func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.limits.MaxIndirectDepth {
		return nil, pdferr.Corrupt("indirect /Length chain deeper than %d", o.limits.MaxIndirectDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset, gen, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if osNum, idx, ok := o.xrefTable.ObjStream(ref.Num); ok && ref.Gen == 0 {
			return o.loadFromObjectStream(ctx, ref, osNum, idx, depth)
		}
		return nil, &pdferr.DanglingReferenceError{Num: ref.Num, Gen: ref.Gen}
	}
	if gen != ref.Gen {
		return nil, &pdferr.DanglingReferenceError{Num: ref.Num, Gen: ref.Gen}
	}

	obj, err := o.loadAtOffset(ctx, ref, offset, depth)
	if errors.Is(err, errHeaderMismatch) && !o.repaired {
		if rerr := o.rebuild(ctx, err, offset); rerr != nil {
			return nil, rerr
		}
		return o.load(ctx, ref, depth)
	}
	return obj, err
}

// rebuild replaces the table with one built by scanning the file. It is
// attempted once per loader.
func (o *objectLoader) rebuild(ctx context.Context, cause error, offset int64) error {
	loc := recovery.Location{ByteOffset: offset, Component: "loader"}
	if !recovery.Decide(ctx, o.recovery, cause, loc).Continue() {
		return cause
	}
	o.repaired = true
	table, err := xref.Repair(ctx, o.reader, xref.ResolverConfig{Decoders: o.decoders, Logger: o.logger})
	if err != nil {
		return fmt.Errorf("%w: %v", pdferr.ErrCorruptDocument, err)
	}
	o.xrefTable = table
	o.objstm = make(map[int]*objectStream)
	return nil
}

func (o *objectLoader) newScanner() scanner.Scanner {
	return scanner.New(o.reader, scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxArrayDepth:   o.limits.MaxIndirectDepth,
		MaxDictDepth:    o.limits.MaxIndirectDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
		WindowSize:      16 * 1024,
	})
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	s := o.newScanner()
	if err := s.SeekTo(offset); err != nil {
		return nil, fmt.Errorf("%w: %v", errHeaderMismatch, err)
	}
	tr := raw.NewTokenReader(s, o.recovery)
	tr.SetMaxDepth(o.limits.MaxIndirectDepth)
	tr.SetLocation(recovery.Location{ByteOffset: offset, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"})

	if err := expectHeader(tr, ref); err != nil {
		return nil, err
	}
	obj, err := o.readBody(ctx, tr, depth)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}
	return obj, nil
}

func expectHeader(tr *raw.TokenReader, ref raw.ObjectRef) error {
	num, err1 := tr.Next()
	gen, err2 := tr.Next()
	kw, err3 := tr.Next()
	if err := errors.Join(err1, err2, err3); err != nil {
		return fmt.Errorf("%w: %v", errHeaderMismatch, err)
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || int(num.Int) != ref.Num ||
		gen.Type != scanner.TokenNumber || !gen.IsInt || int(gen.Int) != ref.Gen ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return fmt.Errorf("%w: want %s", errHeaderMismatch, ref)
	}
	tr.Unread(kw)
	tr.Unread(gen)
	tr.Unread(num)
	return nil
}

// readBody reads the indirect object at the reader's position. An indirect
// /Length is loaded through the table before the payload is scanned.
func (o *objectLoader) readBody(ctx context.Context, tr *raw.TokenReader, depth int) (raw.Object, error) {
	var lengthErr error
	length := func(d *raw.DictObj) int64 {
		v, ok := d.Get("Length")
		if !ok {
			return -1
		}
		if r, isRef := v.(raw.RefObj); isRef {
			obj, err := o.load(ctx, r.R, depth+1)
			if err != nil {
				lengthErr = err
				return -1
			}
			v = obj
		}
		if n, ok := raw.IntValue(v); ok && n >= 0 {
			return n
		}
		return -1
	}
	_, obj, err := tr.ReadIndirect(length)
	if err != nil {
		return nil, err
	}
	if lengthErr != nil {
		// The payload was found by scanning for endstream instead.
		o.logger.Debug("unresolved stream length", observability.Error("error", lengthErr))
	}
	return obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, osNum, idx, depth int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, osNum, depth)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", osNum, err)
	}
	if obj, ok := stm.parsed[ref.Num]; ok {
		return obj, nil
	}
	if idx < 0 || idx >= len(stm.nums) || stm.nums[idx] != ref.Num {
		// Trust the stream header over the table's index.
		idx = -1
		for i, n := range stm.nums {
			if n == ref.Num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &pdferr.DanglingReferenceError{Num: ref.Num, Gen: ref.Gen, From: fmt.Sprintf("object stream %d", osNum)}
		}
	}
	start := stm.first + stm.offsets[idx]
	if start < 0 || start > len(stm.data) {
		return nil, pdferr.Corrupt("object %s offset outside object stream %d", ref, osNum)
	}
	tr := raw.NewTokenReader(scanner.NewBytes(stm.data[start:], scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
	}), o.recovery)
	tr.SetMaxDepth(o.limits.MaxIndirectDepth)
	tr.SetLocation(recovery.Location{ObjectNum: ref.Num, Component: fmt.Sprintf("objstm %d", osNum)})
	obj, err := tr.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("object %s in object stream %d: %w", ref, osNum, err)
	}
	stm.parsed[ref.Num] = obj
	return obj, nil
}

func (o *objectLoader) objectStream(ctx context.Context, num, depth int) (*objectStream, error) {
	if stm, ok := o.objstm[num]; ok {
		return stm, nil
	}
	_, gen, _ := o.xrefTable.Lookup(num)
	obj, err := o.load(ctx, raw.ObjectRef{Num: num, Gen: gen}, depth+1)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, pdferr.Corrupt("object %d is not a stream", num)
	}
	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	if n < 0 || first < 0 {
		return nil, pdferr.Corrupt("object stream %d has invalid /N or /First", num)
	}
	data, err := filters.DecodeStream(ctx, o.decoders, st)
	if errors.Is(err, filters.ErrUnsupportedFilter) {
		var ue filters.UnsupportedError
		errors.As(err, &ue)
		return nil, pdferr.Unsupported("filter " + ue.Filter)
	}
	if err != nil {
		return nil, err
	}
	if int(first) > len(data) {
		return nil, pdferr.Corrupt("object stream %d /First beyond data", num)
	}

	hs := scanner.NewBytes(data[:first], scanner.Config{})
	stm := &objectStream{data: data, first: int(first), parsed: make(map[int]raw.Object)}
	for i := int64(0); i < n; i++ {
		numTok, err1 := hs.Next()
		offTok, err2 := hs.Next()
		if errors.Join(err1, err2) != nil || numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			loc := recovery.Location{ObjectNum: num, Component: "objstm header"}
			herr := fmt.Errorf("object stream %d header has %d of %d entries", num, i, n)
			if !recovery.Decide(ctx, o.recovery, herr, loc).Continue() {
				return nil, herr
			}
			break
		}
		stm.nums = append(stm.nums, int(numTok.Int))
		stm.offsets = append(stm.offsets, int(offTok.Int))
	}
	o.objstm[num] = stm
	return stm, nil
}
