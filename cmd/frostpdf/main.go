package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/FrostLynn/frostlynnPDF/engine"
	"github.com/FrostLynn/frostlynnPDF/observability"
	"github.com/FrostLynn/frostlynnPDF/writer"
)

const producer = "frostpdf"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, e *engine.Engine, args []string) error
}

var commands = []command{
	{"merge", "merge -o merged.pdf a.pdf b.pdf ...", runMerge},
	{"split", "split -out dir in.pdf", runSplit},
	{"sign", "sign -image sig.png [-page 0] [-x 0] [-top 0] [-scale 0.5 | -w W -h H] -o out.pdf in.pdf", runSign},
	{"compress", "compress [-out dir] [-deep] file.pdf ...", runCompress},
	{"info", "info file.pdf", runInfo},
}

func main() {
	global := flag.NewFlagSet("frostpdf", flag.ContinueOnError)
	verbose := global.Bool("v", false, "Log debug output to stderr")
	workers := global.Int("workers", 0, "Parallel workers (default: number of CPUs)")
	global.Usage = func() { usage(global.Output()) }
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if global.NArg() == 0 {
		usage(os.Stderr)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	name, args := global.Arg(0), global.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		e := engine.New(engine.Config{
			Writer:  writer.Config{Producer: producer},
			Logger:  logger,
			Workers: *workers,
		})
		err := c.run(ctx, e, args)
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "frostpdf %s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "frostpdf: unknown command %q\n", name)
	usage(os.Stderr)
	os.Exit(2)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: frostpdf [-v] [-workers n] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}
