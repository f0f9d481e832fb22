package engine

import (
	"context"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pages"
)

// Info summarizes a file without changing it.
type Info struct {
	Version  string
	Metadata raw.DocumentMetadata
	Objects  int
	Pages    []PageInfo
}

type PageInfo struct {
	MediaBox pages.Rectangle
	CropBox  pages.Rectangle
	Rotate   int
	Streams  int
}

func (e *Engine) Inspect(ctx context.Context, in Input) (info *Info, err error) {
	ctx, finish := e.span(ctx, "engine.Inspect")
	defer finish(&err)

	doc, err := e.Open(ctx, in.Data)
	if err != nil {
		return nil, err
	}
	info = &Info{Version: doc.Version, Metadata: doc.Metadata, Objects: doc.Len()}
	for p, err := range pages.All(doc) {
		if err != nil {
			return nil, err
		}
		info.Pages = append(info.Pages, PageInfo{
			MediaBox: p.MediaBox,
			CropBox:  p.CropBox,
			Rotate:   p.Rotate,
			Streams:  len(p.Contents),
		})
	}
	return info, nil
}
