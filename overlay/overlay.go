// Package overlay stamps raster images onto existing pages.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/coords"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pages"
	"github.com/FrostLynn/frostlynnPDF/resources"
)

// ErrInvalidRect is returned for placements without a positive, finite size.
var ErrInvalidRect = errors.New("placement rectangle must have positive size")

// Rect is a placement in page space: (X, Y) is the lower-left corner.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) valid() bool {
	for _, v := range []float64{r.X, r.Y, r.W, r.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.W > 0 && r.H > 0
}

// Placement describes an image drawn onto a page.
type Placement struct {
	Page   int
	Name   string // resource name, e.g. "Im1"
	Image  raw.ObjectRef
	Matrix coords.Matrix // maps the unit square onto the placement
}

// Placer draws images onto the pages of one document. Placing the same
// *Image more than once embeds it only once.
type Placer struct {
	doc      *raw.Document
	logger   observability.Logger
	embedded map[*Image]raw.ObjectRef
}

func NewPlacer(doc *raw.Document, logger observability.Logger) *Placer {
	return &Placer{
		doc:      doc,
		logger:   observability.OrNop(logger),
		embedded: make(map[*Image]raw.ObjectRef),
	}
}

// Place draws img over page pageIndex so that it fills r. The page gets
// its own copy of its resource dictionary, so pages that shared resources
// with it are unaffected. Existing content is wrapped in q/Q and keeps its
// order; the image is drawn last, on top.
func (p *Placer) Place(ctx context.Context, pageIndex int, img *Image, r Rect) (Placement, error) {
	if err := ctx.Err(); err != nil {
		return Placement{}, err
	}
	if !r.valid() {
		return Placement{}, fmt.Errorf("%w: %+v", ErrInvalidRect, r)
	}
	page, err := pages.At(p.doc, pageIndex)
	if err != nil {
		return Placement{}, err
	}
	imgRef, err := p.embed(img)
	if err != nil {
		return Placement{}, fmt.Errorf("embed image: %w", err)
	}

	res, err := p.ownResources(page)
	if err != nil {
		return Placement{}, err
	}
	xobjects, err := resources.Own(p.doc, res, resources.CategoryXObject)
	if err != nil {
		return Placement{}, err
	}
	name := resources.NextName(xobjects, "Im")
	xobjects.Set(name, raw.RefObj{R: imgRef})

	m := coords.Scale(r.W, r.H).Multiply(coords.Translate(r.X, r.Y))
	contents, err := p.wrapContents(page, drawImage(name, m))
	if err != nil {
		return Placement{}, err
	}

	dict := page.Dict.Clone()
	dict.Set("Resources", res)
	dict.Set("Contents", contents)
	if err := p.doc.Set(page.Ref, dict); err != nil {
		return Placement{}, err
	}

	p.logger.Debug("placed image",
		observability.Int("page", pageIndex),
		observability.String("name", name),
		observability.Int("width", img.Width),
		observability.Int("height", img.Height))
	return Placement{Page: pageIndex, Name: name, Image: imgRef, Matrix: m}, nil
}

func (p *Placer) embed(img *Image) (raw.ObjectRef, error) {
	if img == nil {
		return raw.ObjectRef{}, ErrBadImage
	}
	if ref, ok := p.embedded[img]; ok {
		return ref, nil
	}
	color, smask, err := img.objects()
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if smask != nil {
		maskRef, err := p.doc.Allocate(smask)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		color.Dict.Set("SMask", raw.RefObj{R: maskRef})
	}
	ref, err := p.doc.Allocate(color)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	p.embedded[img] = ref
	return ref, nil
}

// ownResources returns a direct copy of the page's effective resources.
func (p *Placer) ownResources(page pages.Page) (*raw.DictObj, error) {
	if page.Resources == nil {
		return raw.Dict(), nil
	}
	return page.Resources.Clone(), nil
}

// wrapContents builds the new /Contents array: a "q" stream, the existing
// streams in order, then a stream that restores state and draws.
func (p *Placer) wrapContents(page pages.Page, draw string) (*raw.ArrayObj, error) {
	out := raw.NewArray()
	if len(page.Contents) > 0 {
		open, err := p.doc.Allocate(raw.NewStream(nil, []byte("q\n")))
		if err != nil {
			return nil, err
		}
		out.Append(raw.RefObj{R: open})
		for _, ref := range page.Contents {
			out.Append(raw.RefObj{R: ref})
		}
		draw = "\nQ\n" + draw
	}
	ref, err := p.doc.Allocate(raw.NewStream(nil, []byte(draw)))
	if err != nil {
		return nil, err
	}
	out.Append(raw.RefObj{R: ref})
	return out, nil
}

func drawImage(name string, m coords.Matrix) string {
	var b strings.Builder
	b.WriteString("q ")
	for _, v := range m {
		b.WriteString(formatNumber(v))
		b.WriteByte(' ')
	}
	b.WriteString("cm /")
	b.WriteString(name)
	b.WriteString(" Do Q\n")
	return b.String()
}

func formatNumber(v float64) string {
	v = math.Round(v*10000) / 10000
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
