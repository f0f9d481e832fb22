package engine

import (
	"context"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/overlay"
	"github.com/FrostLynn/frostlynnPDF/pages"
)

// OverlayRequest places one PNG on one page. Image holds the PNG file;
// DataURL is used instead when Image is empty. Rect is in page space.
type OverlayRequest struct {
	Page    int
	Image   []byte
	DataURL string
	Rect    overlay.Rect
}

// DefaultSignatureScale is the size of a placed image relative to its
// pixel dimensions, in points per pixel.
const DefaultSignatureScale = 0.5

// Overlay draws the requested image on a page of in and returns the
// stamped file, named "<base>-signed.pdf".
func (e *Engine) Overlay(ctx context.Context, in Input, req OverlayRequest) (out Output, err error) {
	ctx, finish := e.span(ctx, "engine.Overlay")
	defer finish(&err)

	img, err := decodeImage(req)
	if err != nil {
		return Output{}, err
	}
	doc, err := e.Open(ctx, in.Data)
	if err != nil {
		return Output{}, err
	}
	placement, err := overlay.NewPlacer(doc, e.logger).Place(ctx, req.Page, img, req.Rect)
	if err != nil {
		return Output{}, err
	}
	data, err := e.serialize(ctx, doc)
	if err != nil {
		return Output{}, err
	}
	e.logger.Info("stamped image",
		observability.String("name", in.Name),
		observability.Int("page", req.Page),
		observability.String("resource", placement.Name),
		observability.Int("bytes", len(data)))
	return Output{Name: BaseName(in.Name) + "-signed.pdf", Data: data}, nil
}

func decodeImage(req OverlayRequest) (*overlay.Image, error) {
	if len(req.Image) > 0 {
		return overlay.DecodePNG(req.Image)
	}
	if req.DataURL != "" {
		return overlay.FromDataURL(req.DataURL)
	}
	return nil, fmt.Errorf("%w: no image given", overlay.ErrBadImage)
}

// TopLeftToPageSpace converts a rectangle positioned from the top-left
// corner of a page, as user interfaces do, into page space.
func TopLeftToPageSpace(pageHeight, x, top, w, h float64) overlay.Rect {
	return overlay.Rect{X: x, Y: pageHeight - top - h, W: w, H: h}
}

// PageBox returns the crop box of page i, the area a viewer shows.
func (e *Engine) PageBox(ctx context.Context, in Input, i int) (pages.Rectangle, error) {
	doc, err := e.Open(ctx, in.Data)
	if err != nil {
		return pages.Rectangle{}, err
	}
	p, err := pages.At(doc, i)
	if err != nil {
		return pages.Rectangle{}, err
	}
	return p.CropBox, nil
}
