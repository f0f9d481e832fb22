// Package resources reads and edits page resource dictionaries.
package resources

import (
	"fmt"
	"strconv"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pages"
)

type Category string

const (
	CategoryFont    Category = "Font"
	CategoryXObject Category = "XObject"
)

// NotFoundError is returned by Lookup for a name the page does not define.
type NotFoundError struct {
	Category Category
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s/%s", e.Category, e.Name)
}

// Lookup resolves /category/name in the page's effective resources, which
// may be inherited from an ancestor node. The returned object is resolved
// one level.
func Lookup(doc *raw.Document, page pages.Page, category Category, name string) (raw.Object, error) {
	if page.Resources == nil {
		return nil, &NotFoundError{category, name}
	}
	v, ok := page.Resources.Get(string(category))
	if !ok {
		return nil, &NotFoundError{category, name}
	}
	sub, err := doc.ResolveDict(v)
	if err != nil {
		return nil, fmt.Errorf("resources /%s: %w", category, err)
	}
	if sub == nil {
		return nil, &NotFoundError{category, name}
	}
	obj, ok := sub.Get(name)
	if !ok {
		return nil, &NotFoundError{category, name}
	}
	return doc.Resolve(obj)
}

// Own replaces res[category] with a direct copy of the dictionary it held,
// creating an empty one if there was none, and returns the copy. Editing
// the copy never affects other holders of the original.
func Own(doc *raw.Document, res *raw.DictObj, category Category) (*raw.DictObj, error) {
	key := string(category)
	v, ok := res.Get(key)
	if !ok {
		d := raw.Dict()
		res.Set(key, d)
		return d, nil
	}
	d, err := doc.ResolveDict(v)
	if err != nil {
		return nil, fmt.Errorf("resources /%s: %w", key, err)
	}
	if d == nil {
		d = raw.Dict()
	} else {
		d = d.Clone()
	}
	res.Set(key, d)
	return d, nil
}

// NextName returns prefix+N for the smallest N >= 1 not used in d.
func NextName(d *raw.DictObj, prefix string) string {
	for n := 1; ; n++ {
		name := prefix + strconv.Itoa(n)
		if _, ok := d.Get(name); !ok {
			return name
		}
	}
}
