// Package parser turns PDF bytes into a raw.Document whose objects are read
// lazily on first access.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/recovery"
	"github.com/FrostLynn/frostlynnPDF/security"
	"github.com/FrostLynn/frostlynnPDF/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
// A nil Recovery selects a lenient strategy that logs through Logger.
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLoggingStrategy(cfg.Logger)
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Logger == nil {
		cfg.XRef.Logger = cfg.Logger
	}
	if cfg.XRef.Decoders == nil {
		cfg.XRef.Decoders = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		})
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads the cross-reference data and trailer of r. Objects are loaded
// from r as the returned document touches them, so r must stay readable for
// the document's lifetime.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	ctx, span := p.cfg.Tracer.StartSpan(ctx, "parser.parse")
	defer span.Finish()

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		span.SetError(err)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pdferr.ErrCorruptDocument, err)
	}
	if err := rejectEncrypted(table); err != nil {
		return nil, err
	}

	doc, err := p.open(r, table, resolver.Repaired())
	if err != nil && !resolver.Repaired() && recovery.Decide(ctx, p.cfg.Recovery, err, recovery.Location{Component: "catalog"}).Continue() {
		// The chain parsed but does not lead to a catalog; scan the file.
		repaired, rerr := xref.Repair(ctx, r, p.cfg.XRef)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", pdferr.ErrCorruptDocument, rerr)
		}
		if err := rejectEncrypted(repaired); err != nil {
			return nil, err
		}
		doc, err = p.open(r, repaired, true)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	p.populateMetadata(doc)
	p.cfg.Logger.Debug("parsed document",
		observability.String("version", doc.Version),
		observability.Int("objects", len(table.Objects())),
		observability.String("xref", table.Type()))
	return doc, nil
}

func rejectEncrypted(table xref.Table) error {
	if trailer := table.Trailer(); trailer != nil {
		if _, ok := trailer.Get("Encrypt"); ok {
			return pdferr.Unsupported("encryption")
		}
	}
	return nil
}

func (p *DocumentParser) open(r io.ReaderAt, table xref.Table, repaired bool) (*raw.Document, error) {
	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithRecovery(p.cfg.Recovery).
		WithLogger(p.cfg.Logger).
		Repaired(repaired).
		Build()
	if err != nil {
		return nil, err
	}
	trailer := table.Trailer()
	if trailer == nil {
		trailer = raw.Dict()
	}
	doc := raw.NewLoadedDocument(trailer, detectHeaderVersion(r), loader)
	cat, err := doc.Catalog()
	if err != nil {
		if errors.Is(err, pdferr.ErrCorruptDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pdferr.ErrCorruptDocument, err)
	}
	if v, ok := cat.GetName("Version"); ok && v > doc.Version {
		doc.Version = v
	}
	return doc, nil
}

func (p *DocumentParser) populateMetadata(doc *raw.Document) {
	infoObj, ok := doc.Trailer.Get("Info")
	if !ok {
		return
	}
	dict, err := doc.ResolveDict(infoObj)
	if err != nil || dict == nil {
		p.cfg.Logger.Debug("ignoring unreadable /Info", observability.Error("error", err))
		return
	}
	md := raw.DocumentMetadata{}
	md.Title, _ = stringValue(doc, dict, "Title")
	md.Author, _ = stringValue(doc, dict, "Author")
	md.Creator, _ = stringValue(doc, dict, "Creator")
	md.Producer, _ = stringValue(doc, dict, "Producer")
	md.Subject, _ = stringValue(doc, dict, "Subject")
	if v, ok := stringValue(doc, dict, "Keywords"); ok {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				md.Keywords = append(md.Keywords, k)
			}
		}
	}
	doc.Metadata = md
}

func stringValue(doc *raw.Document, dict *raw.DictObj, key string) (string, bool) {
	obj, ok := dict.Get(key)
	if !ok {
		return "", false
	}
	obj, err := doc.Resolve(obj)
	if err != nil {
		return "", false
	}
	str, ok := obj.(raw.StringObj)
	if !ok {
		return "", false
	}
	return raw.DecodeText(str.Value()), true
}

func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "1.7"
	}
	// Some producers put junk before the header.
	head := string(buf[:n])
	idx := strings.Index(head, "%PDF-")
	if idx < 0 {
		return "1.7"
	}
	line := head[idx+5:]
	end := 0
	for end < len(line) && (line[end] == '.' || line[end] >= '0' && line[end] <= '9') {
		end++
	}
	if end == 0 {
		return "1.7"
	}
	return line[:end]
}
