package raw

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Less orders references by number, then generation.
func (r ObjectRef) Less(o ObjectRef) bool {
	if r.Num != o.Num {
		return r.Num < o.Num
	}
	return r.Gen < o.Gen
}

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
	Keywords []string
}

// Loader materializes objects that have not been read yet. The parser
// supplies one so that objects are only decoded when first touched.
type Loader interface {
	Load(ctx context.Context, ref ObjectRef) (Object, error)
	Refs() []ObjectRef
}

// Document is the root container for raw PDF objects. It owns every object
// it holds; references never cross documents.
//
// A Document may be read from several goroutines. Mutation must not overlap
// with any other access.
type Document struct {
	Trailer  *DictObj
	Version  string // e.g., "1.7"
	Metadata DocumentMetadata

	mu      sync.Mutex
	objects map[ObjectRef]Object
	loader  Loader
	nextNum int
	sealed  bool
}

// NewDocument returns an empty document with a catalog and an empty page
// tree root.
func NewDocument() *Document {
	d := &Document{Version: "1.7", objects: make(map[ObjectRef]Object), nextNum: 1}
	pagesRef, _ := d.Allocate(nil)
	pages := Dict()
	pages.Set("Type", NameLiteral("Pages"))
	pages.Set("Kids", NewArray())
	pages.Set("Count", NumberInt(0))
	d.objects[pagesRef] = pages

	catalog := Dict()
	catalog.Set("Type", NameLiteral("Catalog"))
	catalog.Set("Pages", RefObj{R: pagesRef})
	catalogRef, _ := d.Allocate(catalog)

	d.Trailer = Dict()
	d.Trailer.Set("Root", RefObj{R: catalogRef})
	return d
}

// NewEmptyDocument returns a document with no objects and an empty trailer.
func NewEmptyDocument() *Document {
	return &Document{Trailer: Dict(), Version: "1.7", objects: make(map[ObjectRef]Object), nextNum: 1}
}

// NewLoadedDocument wraps a loader. Object numbers allocated later start
// after the highest number the loader knows about or the trailer's /Size.
func NewLoadedDocument(trailer *DictObj, version string, loader Loader) *Document {
	d := &Document{
		Trailer: trailer,
		Version: version,
		objects: make(map[ObjectRef]Object),
		loader:  loader,
		nextNum: 1,
	}
	for _, ref := range loader.Refs() {
		if ref.Num >= d.nextNum {
			d.nextNum = ref.Num + 1
		}
	}
	if size, ok := trailer.GetInt("Size"); ok && int(size) > d.nextNum {
		d.nextNum = int(size)
	}
	return d
}

// Allocate stores obj under a fresh object number. Numbers are never reused.
// A nil obj reserves the number; the slot reads as null until Set.
func (d *Document) Allocate(obj Object) (ObjectRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return ObjectRef{}, pdferr.ErrSealed
	}
	if d.objects == nil {
		d.objects = make(map[ObjectRef]Object)
	}
	if d.nextNum < 1 {
		d.nextNum = 1
	}
	ref := ObjectRef{Num: d.nextNum}
	d.nextNum++
	if obj == nil {
		obj = NullObj{}
	}
	d.objects[ref] = obj
	return ref, nil
}

// Set replaces the object stored under ref.
func (d *Document) Set(ref ObjectRef, obj Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return pdferr.ErrSealed
	}
	if d.objects == nil {
		d.objects = make(map[ObjectRef]Object)
	}
	d.objects[ref] = obj
	if ref.Num >= d.nextNum {
		d.nextNum = ref.Num + 1
	}
	return nil
}

// Get returns the object stored under ref, loading it on first access.
func (d *Document) Get(ref ObjectRef) (Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj, ok := d.objects[ref]; ok {
		return obj, nil
	}
	if d.loader == nil {
		return nil, &pdferr.DanglingReferenceError{Num: ref.Num, Gen: ref.Gen}
	}
	obj, err := d.loader.Load(context.Background(), ref)
	if err != nil {
		if errors.Is(err, pdferr.ErrDanglingReference) {
			return nil, err
		}
		return nil, fmt.Errorf("load object %s: %w", ref, err)
	}
	if d.objects == nil {
		d.objects = make(map[ObjectRef]Object)
	}
	d.objects[ref] = obj
	return obj, nil
}

// Resolve follows one level of indirection. Direct values are returned as is.
func (d *Document) Resolve(obj Object) (Object, error) {
	if r, ok := obj.(RefObj); ok {
		return d.Get(r.R)
	}
	return obj, nil
}

// ResolveDict resolves obj and returns it as a dictionary. A stream resolves
// to its dictionary. Any other type yields nil without an error.
func (d *Document) ResolveDict(obj Object) (*DictObj, error) {
	v, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case *DictObj:
		return t, nil
	case *StreamObj:
		return t.Dict, nil
	}
	return nil, nil
}

// Catalog returns the document catalog named by the trailer's /Root.
func (d *Document) Catalog() (*DictObj, error) {
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil, pdferr.Corrupt("trailer has no /Root")
	}
	cat, err := d.ResolveDict(root)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if cat == nil {
		return nil, pdferr.Corrupt("/Root is not a dictionary")
	}
	return cat, nil
}

// PagesRoot returns the reference of the root Pages node.
func (d *Document) PagesRoot() (ObjectRef, error) {
	cat, err := d.Catalog()
	if err != nil {
		return ObjectRef{}, err
	}
	p, ok := cat.Get("Pages")
	if !ok {
		return ObjectRef{}, pdferr.Corrupt("catalog has no /Pages")
	}
	r, ok := p.(RefObj)
	if !ok {
		return ObjectRef{}, pdferr.Corrupt("catalog /Pages is not a reference")
	}
	return r.R, nil
}

// Refs returns every object reference that is loaded or loadable, sorted.
func (d *Document) Refs() []ObjectRef {
	d.mu.Lock()
	seen := make(map[ObjectRef]struct{}, len(d.objects))
	for ref := range d.objects {
		seen[ref] = struct{}{}
	}
	if d.loader != nil {
		for _, ref := range d.loader.Refs() {
			seen[ref] = struct{}{}
		}
	}
	d.mu.Unlock()
	out := make([]ObjectRef, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Len returns the number of objects known to the document.
func (d *Document) Len() int { return len(d.Refs()) }

// Seal marks the document as serialized. Later mutation fails with
// pdferr.ErrSealed.
func (d *Document) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

func (d *Document) Sealed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sealed
}
