package xref

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/scanner"
)

// Repair rebuilds a table by scanning the whole file for "N G obj" headers.
// Later definitions of the same object number win, as they would after an
// incremental update. Objects packed in object streams are enumerated from
// the stream headers. The trailer is the last one found that names a
// /Root; failing that, an xref stream dictionary or the document catalog
// stands in.
func Repair(ctx context.Context, r io.ReaderAt, cfg ResolverConfig) (Table, error) {
	if cfg.Decoders == nil {
		cfg.Decoders = filters.NewDefaultPipeline(filters.Limits{})
	}
	log := observability.OrNop(cfg.Logger)

	s := scanner.New(r, scanner.Config{})
	tr := raw.NewTokenReader(s, nil)
	entries := make(map[int]Entry)
	var (
		trailer    *raw.DictObj
		xrefDict   *raw.DictObj
		catalog    *raw.ObjectRef
		objStreams []raw.ObjectRef
		streams    = make(map[raw.ObjectRef]*raw.StreamObj)
		prev1      scanner.Token
		prev2      scanner.Token
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := s.Position()
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip the byte that failed to tokenize.
			if serr := s.SeekTo(before + 1); serr != nil {
				break
			}
			prev1, prev2 = scanner.Token{}, scanner.Token{}
			continue
		}

		switch {
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj" && isObjNumber(prev2) && isObjNumber(prev1):
			ref := raw.ObjectRef{Num: int(prev2.Int), Gen: int(prev1.Int)}
			entries[ref.Num] = Entry{Type: EntryInUse, Offset: prev2.Pos, Gen: ref.Gen}
			if err := s.SeekTo(prev2.Pos); err != nil {
				return nil, err
			}
			_, obj, err := tr.ReadIndirect(nil)
			if err != nil {
				// Keep the entry; the loader reports the damaged body.
				if serr := s.SeekTo(tok.Pos + int64(len("obj"))); serr != nil {
					return nil, serr
				}
				break
			}
			switch o := obj.(type) {
			case *raw.StreamObj:
				switch typ, _ := o.Dict.GetName("Type"); typ {
				case "ObjStm":
					objStreams = append(objStreams, ref)
					streams[ref] = o
				case "XRef":
					xrefDict = o.Dict
				}
			case *raw.DictObj:
				if typ, _ := o.GetName("Type"); typ == "Catalog" {
					c := ref
					catalog = &c
				}
			}
			tok = scanner.Token{}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := tr.ReadObject()
			if d, ok := obj.(*raw.DictObj); err == nil && ok {
				if _, hasRoot := d.Get("Root"); hasRoot || trailer == nil {
					trailer = d
				}
			}
			tok = scanner.Token{}
		}
		prev2, prev1 = prev1, tok
	}

	for _, ref := range objStreams {
		nums, err := objectStreamNumbers(ctx, cfg.Decoders, streams[ref])
		if err != nil {
			log.Warn("skipping unreadable object stream",
				observability.Int("object", ref.Num), observability.Error("error", err))
			continue
		}
		for i, num := range nums {
			if _, direct := entries[num]; direct {
				continue
			}
			entries[num] = Entry{Type: EntryCompressed, Stream: ref.Num, Index: i}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("no objects found while scanning file")
	}

	trailer = chooseTrailer(trailer, xrefDict, catalog, entries)
	if trailer == nil {
		return nil, errors.New("no document catalog found while scanning file")
	}
	log.Info("rebuilt cross-reference table", observability.Int("objects", len(entries)))
	return &table{entries: entries, trailer: trailer, kind: "repaired"}, nil
}

func chooseTrailer(trailer, xrefDict *raw.DictObj, catalog *raw.ObjectRef, entries map[int]Entry) *raw.DictObj {
	if trailer != nil {
		if _, ok := trailer.Get("Root"); ok {
			return stripStreamKeys(trailer)
		}
	}
	if xrefDict != nil {
		if _, ok := xrefDict.Get("Root"); ok {
			return stripStreamKeys(xrefDict)
		}
	}
	if catalog == nil {
		return nil
	}
	out := raw.Dict()
	if trailer != nil {
		out = stripStreamKeys(trailer)
	}
	out.Set("Root", raw.Ref(catalog.Num, catalog.Gen))
	maxNum := 0
	for n := range entries {
		maxNum = max(maxNum, n)
	}
	out.Set("Size", raw.NumberInt(int64(maxNum+1)))
	return out
}

// objectStreamNumbers lists the object numbers an object stream holds, in
// order.
func objectStreamNumbers(ctx context.Context, p *filters.Pipeline, s *raw.StreamObj) ([]int, error) {
	n, ok := s.Dict.GetInt("N")
	if !ok || n < 0 {
		return nil, errors.New("object stream without /N")
	}
	data, err := filters.DecodeStream(ctx, p, s)
	if err != nil {
		return nil, err
	}
	sc := scanner.NewBytes(data, scanner.Config{})
	nums := make([]int, 0, n)
	for i := int64(0); i < n; i++ {
		num, err1 := sc.Next()
		_, err2 := sc.Next()
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("object stream header: %w", err)
		}
		if num.Type != scanner.TokenNumber || !num.IsInt {
			return nil, errors.New("object stream header is not numeric")
		}
		nums = append(nums, int(num.Int))
	}
	return nums, nil
}

func isObjNumber(t scanner.Token) bool {
	return t.Type == scanner.TokenNumber && t.IsInt && t.Int >= 0
}
