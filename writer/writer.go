// Package writer serializes documents as complete PDF files with a fresh
// cross-reference table.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/optimize"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

type Config struct {
	// Version overrides the header version. Empty keeps the document's.
	Version PDFVersion
	// Deterministic derives the file ID from the content, so the same
	// document always produces the same bytes.
	Deterministic bool
	// Producer, when set, is written to the Info dictionary.
	Producer string
	Logger   observability.Logger
}

// Write compacts doc and writes it to w as a single-revision file: header,
// objects 1..n, a classic xref table and the trailer. The output never
// depends on the source file's layout.
//
// doc is sealed once the output has been written; later mutation fails
// with pdferr.ErrSealed.
func Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error {
	data, err := Bytes(ctx, doc, cfg)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Bytes is Write into memory.
func Bytes(ctx context.Context, doc *raw.Document, cfg Config) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := observability.OrNop(cfg.Logger)

	out, stats, err := optimize.Compact(doc)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	if cfg.Producer != "" {
		added, err := stampProducer(out, cfg.Producer)
		if err != nil {
			return nil, err
		}
		if added {
			// Renumber so the new Info dictionary sits where a reparse
			// would put it.
			before := stats.Before
			if out, stats, err = optimize.Compact(out); err != nil {
				return nil, fmt.Errorf("compact: %w", err)
			}
			stats.Before = before
		}
	}

	version := pdfVersion(doc, cfg)
	var body bytes.Buffer
	refs := out.Refs()
	offsets := make([]int, len(refs))
	for i, ref := range refs {
		obj, err := out.Get(ref)
		if err != nil {
			return nil, err
		}
		offsets[i] = body.Len()
		writeObject(&body, ref, obj)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n%\xE2\xE3\xCF\xD3\n")
	headerLen := buf.Len()
	buf.Write(body.Bytes())

	xrefOffset := buf.Len()
	size := len(refs) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", headerLen+off)
	}
	trailer := buildTrailer(size, out.Trailer, fileID(body.Bytes(), version, cfg))
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	doc.Seal()
	logger.Debug("serialized document",
		observability.String("version", version),
		observability.Int("objects", stats.After),
		observability.Int("dropped", stats.Dropped),
		observability.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// stampProducer sets /Producer in the Info dictionary, creating one if
// needed. It reports whether a new object was allocated.
func stampProducer(doc *raw.Document, producer string) (bool, error) {
	doc.Metadata.Producer = producer
	if v, ok := doc.Trailer.Get("Info"); ok {
		if d, direct := v.(*raw.DictObj); direct {
			d = d.Clone()
			d.Set("Producer", raw.EncodeText(producer))
			doc.Trailer.Set("Info", d)
			return false, nil
		}
		if ref, isRef := v.(raw.RefObj); isRef {
			info, err := doc.ResolveDict(v)
			if err != nil {
				return false, fmt.Errorf("info: %w", err)
			}
			if info != nil {
				info = info.Clone()
				info.Set("Producer", raw.EncodeText(producer))
				return false, doc.Set(ref.R, info)
			}
		}
	}
	info := raw.Dict()
	info.Set("Producer", raw.EncodeText(producer))
	ref, err := doc.Allocate(info)
	if err != nil {
		return false, err
	}
	doc.Trailer.Set("Info", raw.RefObj{R: ref})
	return true, nil
}
