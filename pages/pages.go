// Package pages walks a document's page tree. Pages are produced lazily in
// document order with their inherited attributes resolved.
package pages

import (
	"fmt"
	"iter"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/security"
)

// Rectangle is a page box in default user space units (points).
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (r Rectangle) Width() float64  { return r.URX - r.LLX }
func (r Rectangle) Height() float64 { return r.URY - r.LLY }

// Array renders r as a PDF rectangle array.
func (r Rectangle) Array() *raw.ArrayObj {
	return raw.NewArray(number(r.LLX), number(r.LLY), number(r.URX), number(r.URY))
}

func number(v float64) raw.NumberObj {
	if v == float64(int64(v)) {
		return raw.NumberInt(int64(v))
	}
	return raw.NumberFloat(v)
}

// inheritable lists the page attributes a leaf may take from an ancestor.
var inheritable = []string{"MediaBox", "CropBox", "Rotate", "Resources"}

// Page is a resolved view of one leaf of the page tree.
type Page struct {
	Index    int
	Ref      raw.ObjectRef
	Dict     *raw.DictObj
	MediaBox Rectangle
	CropBox  Rectangle // MediaBox when the page declares none
	Rotate   int

	// Resources is the resolved resource dictionary, nil when the page
	// has none.
	Resources *raw.DictObj

	// Inherited holds the unresolved values of inheritable attributes the
	// page takes from an ancestor, keyed by attribute name.
	Inherited map[string]raw.Object

	// Contents lists the page's content streams in painting order.
	Contents []raw.ObjectRef
}

// Walker configures the page tree walk.
type Walker struct {
	// MaxDepth bounds page tree nesting. Zero uses the default limit.
	MaxDepth int
}

// All walks doc's page tree depth-first. The sequence can be ranged over
// any number of times; each pass re-reads the tree and never modifies it.
// A walk stops at the first error, which is yielded with a zero Page.
func All(doc *raw.Document) iter.Seq2[Page, error] {
	return Walker{}.All(doc)
}

func (w Walker) All(doc *raw.Document) iter.Seq2[Page, error] {
	maxDepth := w.MaxDepth
	if maxDepth <= 0 {
		maxDepth = security.DefaultLimits().MaxPageTreeDepth
	}
	return func(yield func(Page, error) bool) {
		root, err := doc.PagesRoot()
		if err != nil {
			yield(Page{}, err)
			return
		}
		st := &walkState{
			doc:      doc,
			maxDepth: maxDepth,
			visited:  make(map[raw.ObjectRef]bool),
			yield:    yield,
		}
		st.walk(root, make(map[string]raw.Object), 0)
	}
}

type walkState struct {
	doc      *raw.Document
	maxDepth int
	visited  map[raw.ObjectRef]bool
	index    int
	yield    func(Page, error) bool
}

// walk visits the node at ref. It reports false once iteration must stop.
func (st *walkState) walk(ref raw.ObjectRef, inherited map[string]raw.Object, depth int) bool {
	if depth > st.maxDepth {
		return st.fail(pdferr.Corrupt("page tree deeper than %d levels", st.maxDepth))
	}
	if st.visited[ref] {
		return st.fail(pdferr.Corrupt("page tree cycle at %s", ref))
	}
	st.visited[ref] = true

	dict, err := st.doc.ResolveDict(raw.RefObj{R: ref})
	if err != nil {
		return st.fail(fmt.Errorf("page tree node %s: %w", ref, err))
	}
	if dict == nil {
		return st.fail(pdferr.Corrupt("page tree node %s is not a dictionary", ref))
	}

	if isLeaf(dict) {
		page, err := st.page(ref, dict, inherited)
		if err != nil {
			return st.fail(err)
		}
		st.index++
		return st.yield(page, nil)
	}

	next, copied := inherited, false
	for _, key := range inheritable {
		if v, ok := dict.Get(key); ok {
			if !copied {
				copied = true
				next = make(map[string]raw.Object, len(inheritable))
				for k, iv := range inherited {
					next[k] = iv
				}
			}
			next[key] = v
		}
	}

	kidsObj, ok := dict.Get("Kids")
	if !ok {
		return st.fail(pdferr.Corrupt("pages node %s has no /Kids", ref))
	}
	kidsObj, err = st.doc.Resolve(kidsObj)
	if err != nil {
		return st.fail(fmt.Errorf("kids of %s: %w", ref, err))
	}
	kids, ok := kidsObj.(*raw.ArrayObj)
	if !ok {
		return st.fail(pdferr.Corrupt("/Kids of %s is not an array", ref))
	}
	for _, kid := range kids.Items {
		kref, ok := kid.(raw.RefObj)
		if !ok {
			return st.fail(pdferr.Corrupt("page tree kid of %s is not a reference", ref))
		}
		if !st.walk(kref.R, next, depth+1) {
			return false
		}
	}
	return true
}

func (st *walkState) fail(err error) bool {
	st.yield(Page{}, err)
	return false
}

func isLeaf(dict *raw.DictObj) bool {
	switch typ, _ := dict.GetName("Type"); typ {
	case "Page":
		return true
	case "Pages":
		return false
	}
	_, hasKids := dict.Get("Kids")
	return !hasKids
}

func (st *walkState) page(ref raw.ObjectRef, dict *raw.DictObj, inherited map[string]raw.Object) (Page, error) {
	p := Page{Index: st.index, Ref: ref, Dict: dict, Inherited: make(map[string]raw.Object)}
	attr := func(key string) (raw.Object, bool) {
		if v, ok := dict.Get(key); ok {
			return v, true
		}
		v, ok := inherited[key]
		if ok {
			p.Inherited[key] = v
		}
		return v, ok
	}

	mb, ok := attr("MediaBox")
	if !ok {
		return Page{}, pdferr.Corrupt("page %d (%s) has no MediaBox", p.Index, ref)
	}
	box, err := st.rect(mb)
	if err != nil {
		return Page{}, fmt.Errorf("page %d MediaBox: %w", p.Index, err)
	}
	p.MediaBox = box
	p.CropBox = box
	if cb, ok := attr("CropBox"); ok {
		if box, err := st.rect(cb); err == nil {
			p.CropBox = box
		}
	}
	if rot, ok := attr("Rotate"); ok {
		if v, err := st.doc.Resolve(rot); err == nil {
			if n, ok := raw.IntValue(v); ok {
				p.Rotate = int(n)
			}
		}
	}
	if res, ok := attr("Resources"); ok {
		d, err := st.doc.ResolveDict(res)
		if err != nil {
			return Page{}, fmt.Errorf("page %d resources: %w", p.Index, err)
		}
		p.Resources = d
	}
	if c, ok := dict.Get("Contents"); ok {
		refs, err := st.contents(c)
		if err != nil {
			return Page{}, fmt.Errorf("page %d contents: %w", p.Index, err)
		}
		p.Contents = refs
	}
	return p, nil
}

// contents accepts a stream reference, an array of them, or a reference to
// such an array.
func (st *walkState) contents(obj raw.Object) ([]raw.ObjectRef, error) {
	if r, ok := obj.(raw.RefObj); ok {
		target, err := st.doc.Get(r.R)
		if err != nil {
			return nil, err
		}
		if arr, ok := target.(*raw.ArrayObj); ok {
			obj = arr
		} else {
			return []raw.ObjectRef{r.R}, nil
		}
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, pdferr.Corrupt("/Contents is neither a stream reference nor an array")
	}
	out := make([]raw.ObjectRef, 0, arr.Len())
	for _, item := range arr.Items {
		if r, ok := item.(raw.RefObj); ok {
			out = append(out, r.R)
		}
	}
	return out, nil
}

func (st *walkState) rect(obj raw.Object) (Rectangle, error) {
	obj, err := st.doc.Resolve(obj)
	if err != nil {
		return Rectangle{}, err
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return Rectangle{}, pdferr.Corrupt("rectangle is not a 4-element array")
	}
	var v [4]float64
	for i, item := range arr.Items {
		item, err := st.doc.Resolve(item)
		if err != nil {
			return Rectangle{}, err
		}
		f, ok := raw.FloatValue(item)
		if !ok {
			return Rectangle{}, pdferr.Corrupt("rectangle element %d is not a number", i)
		}
		v[i] = f
	}
	return Rectangle{
		LLX: min(v[0], v[2]), LLY: min(v[1], v[3]),
		URX: max(v[0], v[2]), URY: max(v[1], v[3]),
	}, nil
}

// Collect returns every page of doc.
func Collect(doc *raw.Document) ([]Page, error) {
	var out []Page
	for p, err := range All(doc) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of pages in doc.
func Count(doc *raw.Document) (int, error) {
	n := 0
	for _, err := range All(doc) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// At returns page i. An index outside the document fails with
// pdferr.ErrIndexOutOfRange.
func At(doc *raw.Document, i int) (Page, error) {
	n := 0
	for p, err := range All(doc) {
		if err != nil {
			return Page{}, err
		}
		if p.Index == i {
			return p, nil
		}
		n++
	}
	return Page{}, pdferr.OutOfRange("page", i, n)
}
