// Package optimize shrinks documents without touching what they render:
// unreachable objects are dropped, duplicates combined and uncompressed
// streams Flate-encoded.
package optimize

import (
	"context"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
)

type Config struct {
	CombineIdenticalIndirectObjects bool
	CombineDuplicateStreams         bool
	CompressStreams                 bool
	Logger                          observability.Logger
}

// DefaultConfig enables every lossless optimization.
func DefaultConfig() Config {
	return Config{
		CombineIdenticalIndirectObjects: true,
		CombineDuplicateStreams:         true,
		CompressStreams:                 true,
	}
}

type Optimizer struct {
	config Config
}

func New(config Config) *Optimizer {
	config.Logger = observability.OrNop(config.Logger)
	return &Optimizer{config: config}
}

// Optimize returns an optimized copy of doc. Stats compare doc with the
// result.
func (o *Optimizer) Optimize(ctx context.Context, doc *raw.Document) (*raw.Document, Stats, error) {
	out, stats, err := Compact(doc)
	if err != nil {
		return nil, stats, err
	}
	before := stats.Before

	if o.config.CompressStreams {
		n, err := o.compressStreams(ctx, out)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to compress streams: %w", err)
		}
		o.config.Logger.Debug("compressed streams", observability.Int("count", n))
	}

	if o.config.CombineIdenticalIndirectObjects || o.config.CombineDuplicateStreams {
		includeStreams := o.config.CombineDuplicateStreams || o.config.CombineIdenticalIndirectObjects
		n, err := o.combineObjects(ctx, out, includeStreams, o.config.CombineIdenticalIndirectObjects)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to combine duplicate objects: %w", err)
		}
		if n > 0 {
			o.config.Logger.Debug("combined duplicate objects", observability.Int("count", n))
			if out, stats, err = Compact(out); err != nil {
				return nil, stats, err
			}
		}
	}

	stats.Before = before
	stats.Dropped = stats.Before - stats.After
	return out, stats, nil
}
