package assemble

import (
	"errors"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// Copier transfers objects from one source document into a target. Each
// source object is copied at most once; later references reuse the first
// copy.
//
// Page tree structure never follows a reference across: a reference to a
// page the caller selected points at that page's copy, any other page tree
// node (or the catalog) becomes null. This keeps /Parent, /P and /Dest
// entries from pulling the whole source tree into the target.
type Copier struct {
	src, dst *raw.Document
	remap    map[raw.ObjectRef]raw.ObjectRef
	pages    map[raw.ObjectRef]raw.ObjectRef // selected source page -> target page
	leaves   map[raw.ObjectRef]bool          // every page of src
	queue    []raw.ObjectRef
	logger   observability.Logger
}

// NewCopier prepares a copier from src into dst. leaves lists every page of
// src so that pages without a /Type entry are still recognised.
func NewCopier(src, dst *raw.Document, leaves []pages.Page, logger observability.Logger) *Copier {
	c := &Copier{
		src:    src,
		dst:    dst,
		remap:  make(map[raw.ObjectRef]raw.ObjectRef),
		pages:  make(map[raw.ObjectRef]raw.ObjectRef),
		leaves: make(map[raw.ObjectRef]bool, len(leaves)),
		logger: observability.OrNop(logger),
	}
	for _, p := range leaves {
		c.leaves[p.Ref] = true
	}
	return c
}

// ReservePage allocates the target number for a selected source page. The
// first reservation of a page is the one other objects refer to.
func (c *Copier) ReservePage(src raw.ObjectRef) (raw.ObjectRef, error) {
	ref, err := c.dst.Allocate(nil)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if _, ok := c.pages[src]; !ok {
		c.pages[src] = ref
	}
	return ref, nil
}

// CopyPage writes a copy of p under the reserved target ref with parent as
// its /Parent. Inherited attributes are written onto the copy.
func (c *Copier) CopyPage(p pages.Page, target, parent raw.ObjectRef) error {
	out := raw.Dict()
	for _, key := range p.Dict.Keys() {
		if key == "Parent" {
			continue
		}
		v, _ := p.Dict.Get(key)
		cv, err := c.value(v)
		if err != nil {
			return fmt.Errorf("page %d /%s: %w", p.Index, key, err)
		}
		out.Set(key, cv)
	}
	for key, v := range p.Inherited {
		cv, err := c.value(v)
		if err != nil {
			return fmt.Errorf("page %d inherited /%s: %w", p.Index, key, err)
		}
		out.Set(key, cv)
	}
	out.Set("Type", raw.NameLiteral("Page"))
	out.Set("Parent", raw.RefObj{R: parent})
	if err := c.dst.Set(target, out); err != nil {
		return err
	}
	return c.drain()
}

// value rewrites a direct value. Referenced objects get a target number
// immediately and are queued; their bodies are copied by drain.
func (c *Copier) value(obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.RefObj:
		return c.ref(v.R)
	case *raw.DictObj:
		out := raw.Dict()
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			cv, err := c.value(item)
			if err != nil {
				return nil, err
			}
			out.Set(key, cv)
		}
		return out, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			cv, err := c.value(item)
			if err != nil {
				return nil, err
			}
			out.Items[i] = cv
		}
		return out, nil
	case *raw.StreamObj:
		d, err := c.value(v.Dict)
		if err != nil {
			return nil, err
		}
		return &raw.StreamObj{Dict: d.(*raw.DictObj), Data: v.Data}, nil
	case nil:
		return raw.NullObj{}, nil
	default:
		return obj, nil
	}
}

func (c *Copier) ref(src raw.ObjectRef) (raw.Object, error) {
	if t, ok := c.pages[src]; ok {
		return raw.RefObj{R: t}, nil
	}
	if t, ok := c.remap[src]; ok {
		return raw.RefObj{R: t}, nil
	}
	if c.leaves[src] {
		return raw.NullObj{}, nil
	}
	target, err := c.src.Get(src)
	if err != nil {
		if errors.Is(err, pdferr.ErrDanglingReference) {
			c.logger.Warn("dropping dangling reference", observability.String("ref", src.String()))
			return raw.NullObj{}, nil
		}
		return nil, err
	}
	if structural(target) {
		return raw.NullObj{}, nil
	}
	ref, err := c.dst.Allocate(nil)
	if err != nil {
		return nil, err
	}
	c.remap[src] = ref
	c.queue = append(c.queue, src)
	return raw.RefObj{R: ref}, nil
}

// structural reports whether obj is part of the document skeleton rather
// than page content.
func structural(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	switch typ, _ := d.GetName("Type"); typ {
	case "Page", "Pages", "Catalog":
		return true
	}
	return false
}

func (c *Copier) drain() error {
	for len(c.queue) > 0 {
		src := c.queue[0]
		c.queue = c.queue[1:]
		obj, err := c.src.Get(src)
		if err != nil {
			return err
		}
		out, err := c.value(obj)
		if err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		if err := c.dst.Set(c.remap[src], out); err != nil {
			return err
		}
	}
	return nil
}

// Copied returns how many non-page objects have been copied.
func (c *Copier) Copied() int { return len(c.remap) }
