package optimize

import (
	"errors"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// Stats counts objects before and after compaction.
type Stats struct {
	Before  int
	After   int
	Dropped int
}

// Compact returns a copy of doc holding only the objects reachable from the
// trailer's /Root and /Info, numbered 1..n with generation 0 in the order a
// breadth-first walk discovers them. Dictionary keys are visited in sorted
// order, so the numbering depends only on the object graph.
//
// Every stream's /Length is replaced by the direct payload length; an
// object referenced only as a /Length is dropped. A reference to an object
// that does not exist fails with pdferr.ErrDanglingReference.
//
// doc is not modified. Compacting a compacted document reproduces it.
func Compact(doc *raw.Document) (*raw.Document, Stats, error) {
	c := &compactor{
		src:   doc,
		remap: make(map[raw.ObjectRef]raw.ObjectRef),
	}
	stats := Stats{Before: len(doc.Refs())}

	trailer := raw.Dict()
	for _, key := range []string{"Root", "Info"} {
		v, ok := doc.Trailer.Get(key)
		if !ok {
			if key == "Root" {
				return nil, stats, pdferr.Corrupt("trailer has no /Root")
			}
			continue
		}
		nv, err := c.rewrite(v, "trailer")
		if err != nil {
			return nil, stats, err
		}
		trailer.Set(key, nv)
	}

	out := raw.NewEmptyDocument()
	out.Version = doc.Version
	out.Metadata = doc.Metadata
	out.Trailer = trailer
	for len(c.queue) > 0 {
		ref := c.queue[0]
		c.queue = c.queue[1:]
		obj, err := doc.Get(ref)
		if err != nil {
			return nil, stats, err
		}
		nv, err := c.rewrite(obj, ref.String())
		if err != nil {
			return nil, stats, err
		}
		if err := out.Set(c.remap[ref], nv); err != nil {
			return nil, stats, err
		}
	}

	stats.After = len(c.order)
	stats.Dropped = stats.Before - stats.After
	return out, stats, nil
}

type compactor struct {
	src   *raw.Document
	remap map[raw.ObjectRef]raw.ObjectRef
	order []raw.ObjectRef
	queue []raw.ObjectRef
}

// rewrite copies a value, numbering references as it meets them. from
// names the holder for error messages.
func (c *compactor) rewrite(obj raw.Object, from string) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.RefObj:
		return c.number(v.R, from)
	case *raw.DictObj:
		out := raw.Dict()
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			nv, err := c.rewrite(item, from)
			if err != nil {
				return nil, err
			}
			out.Set(key, nv)
		}
		return out, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			nv, err := c.rewrite(item, from)
			if err != nil {
				return nil, err
			}
			out.Items[i] = nv
		}
		return out, nil
	case *raw.StreamObj:
		d := v.Dict.Clone()
		d.Set("Length", raw.NumberInt(int64(len(v.Data))))
		nd, err := c.rewrite(d, from)
		if err != nil {
			return nil, err
		}
		return &raw.StreamObj{Dict: nd.(*raw.DictObj), Data: v.Data}, nil
	case nil:
		return raw.NullObj{}, nil
	default:
		return obj, nil
	}
}

func (c *compactor) number(ref raw.ObjectRef, from string) (raw.Object, error) {
	if n, ok := c.remap[ref]; ok {
		return raw.RefObj{R: n}, nil
	}
	if _, err := c.src.Get(ref); err != nil {
		var de *pdferr.DanglingReferenceError
		if errors.As(err, &de) {
			return nil, &pdferr.DanglingReferenceError{Num: ref.Num, Gen: ref.Gen, From: from}
		}
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	n := raw.ObjectRef{Num: len(c.order) + 1}
	c.remap[ref] = n
	c.order = append(c.order, ref)
	c.queue = append(c.queue, ref)
	return raw.RefObj{R: n}, nil
}
