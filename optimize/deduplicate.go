package optimize

import (
	"context"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

// combineObjects points every reference to a duplicate at the first object
// with the same content and returns how many duplicates it found. The
// duplicates stay in doc until the next compaction drops them. Page tree
// nodes and annotations are never combined: two identical pages are still
// two pages.
func (o *Optimizer) combineObjects(ctx context.Context, doc *raw.Document, includeStreams, includeOthers bool) (int, error) {
	dead := make(map[raw.ObjectRef]bool)
	changed := true
	for changed {
		if err := ctx.Err(); err != nil {
			return len(dead), err
		}
		changed = false
		seen := make(map[string]raw.ObjectRef)
		replacements := make(map[raw.ObjectRef]raw.ObjectRef)

		for _, ref := range doc.Refs() {
			if dead[ref] {
				continue
			}
			obj, err := doc.Get(ref)
			if err != nil {
				return len(dead), err
			}
			_, isStream := obj.(*raw.StreamObj)
			if isStream && !includeStreams {
				continue
			}
			if !isStream && (!includeOthers || structural(obj)) {
				continue
			}

			h := hashObject(obj)
			if original, ok := seen[h]; ok {
				replacements[ref] = original
				changed = true
			} else {
				seen[h] = ref
			}
		}

		if len(replacements) > 0 {
			if err := applyReplacements(doc, replacements, dead); err != nil {
				return len(dead), err
			}
			for dup := range replacements {
				dead[dup] = true
			}
		}
	}
	return len(dead), nil
}

func structural(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	switch typ, _ := d.GetName("Type"); typ {
	case "Page", "Pages", "Catalog", "Annot":
		return true
	}
	// Annotations may omit /Type but always carry /Rect; each belongs to
	// exactly one page.
	_, hasRect := d.Get("Rect")
	_, hasSubtype := d.Get("Subtype")
	return hasRect && hasSubtype
}

func applyReplacements(doc *raw.Document, replacements map[raw.ObjectRef]raw.ObjectRef, dead map[raw.ObjectRef]bool) error {
	for _, ref := range doc.Refs() {
		if dead[ref] {
			continue
		}
		if _, dup := replacements[ref]; dup {
			continue
		}
		obj, err := doc.Get(ref)
		if err != nil {
			return err
		}
		if nv, changed := replaceRefs(obj, replacements); changed {
			if err := doc.Set(ref, nv); err != nil {
				return err
			}
		}
	}
	if nv, changed := replaceRefs(doc.Trailer, replacements); changed {
		doc.Trailer = nv.(*raw.DictObj)
	}
	return nil
}

// replaceRefs returns obj with references rewritten. Containers are copied
// only when something inside them changes.
func replaceRefs(obj raw.Object, replacements map[raw.ObjectRef]raw.ObjectRef) (raw.Object, bool) {
	switch t := obj.(type) {
	case raw.RefObj:
		if r, ok := replacements[t.R]; ok {
			return raw.RefObj{R: r}, true
		}
	case *raw.ArrayObj:
		var out *raw.ArrayObj
		for i, v := range t.Items {
			nv, changed := replaceRefs(v, replacements)
			if !changed {
				continue
			}
			if out == nil {
				out = &raw.ArrayObj{Items: append([]raw.Object(nil), t.Items...)}
			}
			out.Items[i] = nv
		}
		if out != nil {
			return out, true
		}
	case *raw.DictObj:
		var out *raw.DictObj
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			nv, changed := replaceRefs(v, replacements)
			if !changed {
				continue
			}
			if out == nil {
				out = t.Clone()
			}
			out.Set(k, nv)
		}
		if out != nil {
			return out, true
		}
	case *raw.StreamObj:
		if nd, changed := replaceRefs(t.Dict, replacements); changed {
			return &raw.StreamObj{Dict: nd.(*raw.DictObj), Data: t.Data}, true
		}
	}
	return obj, false
}
