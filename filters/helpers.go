package filters

import (
	"context"
	"errors"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// DecodeParms entries that are null or missing yield nil params at the same
// position so the two slices stay aligned.
func ExtractFilters(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string
	var params []*raw.DictObj

	filterObj, ok := dict.Get("Filter")
	if !ok {
		return names, params
	}

	switch f := filterObj.(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}

	if len(names) > 0 {
		if pObj, ok := dict.Get("DecodeParms"); ok {
			switch p := pObj.(type) {
			case *raw.DictObj:
				params = append(params, p)
			case *raw.ArrayObj:
				for _, item := range p.Items {
					d, _ := item.(*raw.DictObj)
					params = append(params, d)
				}
			}
		}
	}

	return names, params
}

// DecodeStream decodes a stream's payload through its declared filters.
// Streams with an undecodable filter return an error matching
// ErrUnsupportedFilter; callers that only pass data through should keep the
// raw bytes in that case.
func DecodeStream(ctx context.Context, p *Pipeline, s *raw.StreamObj) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	names, params := ExtractFilters(s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

// IsOpaque reports whether s uses a filter the pipeline cannot decode.
func IsOpaque(p *Pipeline, s *raw.StreamObj) bool {
	names, _ := ExtractFilters(s.Dict)
	return !p.Supports(names)
}
