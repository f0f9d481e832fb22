package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/FrostLynn/frostlynnPDF/internal/testpdf"
)

func BenchmarkParseAndLoad(b *testing.B) {
	for _, packed := range []bool{false, true} {
		data := testpdf.Generate(testpdf.Options{Pages: 200, XRefStream: packed, Compressed: true})
		name := "classic"
		if packed {
			name = "xref-stream"
		}
		b.Run(name, func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
				if err != nil {
					b.Fatalf("parse failed: %v", err)
				}
				for _, ref := range doc.Refs() {
					if _, err := doc.Get(ref); err != nil {
						b.Fatalf("load %s: %v", ref, err)
					}
				}
			}
		})
	}
}
