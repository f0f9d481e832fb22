package optimize

import (
	"context"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

// compressStreams Flate-encodes streams stored without a filter when that
// makes them smaller. Filtered streams, including ones this package cannot
// decode, are left as they are.
func (o *Optimizer) compressStreams(ctx context.Context, doc *raw.Document) (int, error) {
	n := 0
	for _, ref := range doc.Refs() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		obj, err := doc.Get(ref)
		if err != nil {
			return n, err
		}
		s, ok := obj.(*raw.StreamObj)
		if !ok || len(s.Data) == 0 {
			continue
		}
		if _, filtered := s.Dict.Get("Filter"); filtered {
			continue
		}
		enc, err := filters.EncodeFlate(s.Data)
		if err != nil {
			return n, err
		}
		if len(enc) >= len(s.Data) {
			continue
		}
		dict := s.Dict.Clone()
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		dict.Set("Length", raw.NumberInt(int64(len(enc))))
		dict.Delete("DecodeParms")
		if err := doc.Set(ref, raw.NewStream(dict, enc)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
