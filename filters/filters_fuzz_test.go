package filters

import (
	"context"
	"testing"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

func FuzzFilters(f *testing.F) {
	f.Add([]byte("some compressed data"), "FlateDecode")
	f.Add([]byte("some ascii85 data"), "ASCII85Decode")
	f.Add([]byte("some hex data"), "ASCIIHexDecode")
	f.Add([]byte{2, 'a', 'b', 'c', 128}, "RunLengthDecode")

	f.Fuzz(func(t *testing.T, data []byte, filterName string) {
		p := NewDefaultPipeline(Limits{MaxDecompressedSize: 1024 * 1024})
		if !p.Supports([]string{filterName}) {
			return
		}
		_, _ = p.Decode(context.Background(), data, []string{filterName}, []*raw.DictObj{nil})
	})
}
