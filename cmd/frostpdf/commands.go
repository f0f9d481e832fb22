package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/engine"
	"github.com/FrostLynn/frostlynnPDF/optimize"
	"github.com/FrostLynn/frostlynnPDF/overlay"
)

func runMerge(ctx context.Context, e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	out := fs.String("o", "merged.pdf", "Output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no input files")
	}
	ins, err := openInputs(fs.Args())
	if err != nil {
		return err
	}
	defer closeInputs(ins)

	sources := make([]engine.Input, len(ins))
	for i, in := range ins {
		sources[i] = in.Input
	}
	res, err := e.Merge(ctx, sources, nil)
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "warning: %v\n", f)
	}
	if err := os.WriteFile(*out, res.Output.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d pages, %s\n", *out, res.Pages, formatSize(len(res.Output.Data)))
	return nil
}

func runSplit(ctx context.Context, e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	outDir := fs.String("out", ".", "Directory for the page files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no input files")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	ins, err := openInputs(fs.Args())
	if err != nil {
		return err
	}
	defer closeInputs(ins)

	inputs := make([]engine.Input, len(ins))
	for i, in := range ins {
		inputs[i] = in.Input
	}
	failed := 0
	for _, r := range e.SplitBatch(ctx, inputs) {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", r.Err)
			failed++
			continue
		}
		for _, o := range r.Outputs {
			path, err := writeOutput(*outDir, o)
			if err != nil {
				return err
			}
			fmt.Println(path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(inputs))
	}
	return nil
}

func runSign(ctx context.Context, e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	imagePath := fs.String("image", "", "PNG image to place")
	page := fs.Int("page", 0, "Page index, zero based")
	x := fs.Float64("x", 0, "Distance from the left edge of the page, in points")
	top := fs.Float64("top", 0, "Distance from the top edge of the page, in points")
	scale := fs.Float64("scale", engine.DefaultSignatureScale, "Points per image pixel, used unless -w and -h are given")
	w := fs.Float64("w", 0, "Placed width in points")
	h := fs.Float64("h", 0, "Placed height in points")
	out := fs.String("o", "", "Output file (default: <input>-signed.pdf)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *imagePath == "" {
		return errors.New("need -image and exactly one input file")
	}

	pngData, err := os.ReadFile(*imagePath)
	if err != nil {
		return err
	}
	img, err := overlay.DecodePNG(pngData)
	if err != nil {
		return err
	}
	width, height := *w, *h
	if width <= 0 || height <= 0 {
		width = float64(img.Width) * *scale
		height = float64(img.Height) * *scale
	}

	in, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	box, err := e.PageBox(ctx, in.Input, *page)
	if err != nil {
		return err
	}
	rect := engine.TopLeftToPageSpace(box.Height(), *x, *top, width, height)
	rect.X += box.LLX
	rect.Y += box.LLY

	res, err := e.Overlay(ctx, in.Input, engine.OverlayRequest{Page: *page, Image: pngData, Rect: rect})
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = filepath.Join(filepath.Dir(fs.Arg(0)), res.Name)
	}
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runCompress(ctx context.Context, e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("compress", flag.ContinueOnError)
	outDir := fs.String("out", "compressed", "Directory for the repacked files")
	deep := fs.Bool("deep", false, "Also combine duplicate objects and Flate-encode plain streams")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no input files")
	}
	if *deep {
		e = e.With(func(c *engine.Config) { c.Optimize = optimize.DefaultConfig() })
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	ins, err := openInputs(fs.Args())
	if err != nil {
		return err
	}
	defer closeInputs(ins)

	inputs := make([]engine.Input, len(ins))
	for i, in := range ins {
		inputs[i] = in.Input
	}
	failed := 0
	for _, item := range e.CompressBatch(ctx, inputs) {
		if item.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", item.Err)
			failed++
			continue
		}
		r := item.Result
		if _, err := writeOutput(*outDir, r.Output); err != nil {
			return err
		}
		fmt.Printf("%s: %s -> %s (%d%%)\n", item.Input, formatSize(r.OriginalSize), formatSize(r.CompressedSize), r.Savings())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(inputs))
	}
	return nil
}

func runInfo(ctx context.Context, e *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("need exactly one input file")
	}
	in, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := e.Inspect(ctx, in.Input)
	if err != nil {
		return err
	}
	fmt.Printf("File:     %s (%s)\n", in.Name, formatSize(len(in.Data)))
	fmt.Printf("Version:  %s\n", info.Version)
	fmt.Printf("Objects:  %d\n", info.Objects)
	for _, kv := range [][2]string{
		{"Title", info.Metadata.Title},
		{"Author", info.Metadata.Author},
		{"Producer", info.Metadata.Producer},
		{"Keywords", strings.Join(info.Metadata.Keywords, ", ")},
	} {
		if kv[1] != "" {
			fmt.Printf("%-9s %s\n", kv[0]+":", kv[1])
		}
	}
	fmt.Printf("Pages:    %d\n", len(info.Pages))
	for i, p := range info.Pages {
		fmt.Printf("  %3d  %g x %g pt", i, p.CropBox.Width(), p.CropBox.Height())
		if p.Rotate != 0 {
			fmt.Printf("  rotated %d", p.Rotate)
		}
		fmt.Println()
	}
	return nil
}

func formatSize(n int) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}
