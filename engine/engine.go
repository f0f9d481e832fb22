// Package engine is the buffer-in, buffer-out front end: every operation
// takes PDF files as byte slices and returns new files as byte slices.
// Documents never outlive a call, so independent calls may run in
// parallel.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/assemble"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/optimize"
	"github.com/FrostLynn/frostlynnPDF/parser"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
	"github.com/FrostLynn/frostlynnPDF/writer"
)

// Input is one PDF file. Name is used for output names and error reports.
type Input struct {
	Name string
	Data []byte
}

// Output is one produced PDF file.
type Output struct {
	Name string
	Data []byte
}

type Config struct {
	Parser parser.Config
	Writer writer.Config
	// Optimize selects the passes Compress runs after compaction. The zero
	// value only drops unreachable objects.
	Optimize optimize.Config
	Logger   observability.Logger
	Tracer   observability.Tracer
	// Workers bounds parallel work inside one call. Default GOMAXPROCS.
	Workers int
}

type Engine struct {
	cfg    Config
	parser *parser.DocumentParser
	asm    *assemble.Assembler
	logger observability.Logger
	tracer observability.Tracer
}

func New(cfg Config) *Engine {
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Parser.Logger == nil {
		cfg.Parser.Logger = cfg.Logger
	}
	if cfg.Parser.Tracer == nil {
		cfg.Parser.Tracer = cfg.Tracer
	}
	if cfg.Writer.Logger == nil {
		cfg.Writer.Logger = cfg.Logger
	}
	if cfg.Optimize.Logger == nil {
		cfg.Optimize.Logger = cfg.Logger
	}
	return &Engine{
		cfg:    cfg,
		parser: parser.NewDocumentParser(cfg.Parser),
		asm:    assemble.New(assemble.Config{Logger: cfg.Logger}),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
}

// With returns a new engine whose configuration is e's after fn.
func (e *Engine) With(fn func(*Config)) *Engine {
	cfg := e.cfg
	fn(&cfg)
	return New(cfg)
}

// Open parses data. The document reads from data lazily, so data must not
// be modified while the document is in use.
func (e *Engine) Open(ctx context.Context, data []byte) (*raw.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("open: %w", pdferr.ErrEmptyInput)
	}
	return e.parser.Parse(ctx, bytes.NewReader(data))
}

func (e *Engine) serialize(ctx context.Context, doc *raw.Document) ([]byte, error) {
	return writer.Bytes(ctx, doc, e.cfg.Writer)
}

// span starts a tracing span and returns a function that finishes it,
// recording *errp.
func (e *Engine) span(ctx context.Context, name string) (context.Context, func(errp *error)) {
	ctx, s := e.tracer.StartSpan(ctx, name)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			s.SetError(*errp)
		}
		s.Finish()
	}
}

// BaseName strips a trailing ".pdf", in any case, from a file name.
func BaseName(name string) string {
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".pdf") {
		return name[:len(name)-4]
	}
	return name
}

func itemError(i, total int, in Input, err error) *pdferr.ItemError {
	return &pdferr.ItemError{Index: i, Total: total, Name: in.Name, Err: err}
}
