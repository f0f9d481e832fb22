package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/FrostLynn/frostlynnPDF/engine"
)

// mappedInput is an input file mapped read-only into memory. The mapping
// must outlive every document parsed from it.
type mappedInput struct {
	engine.Input
	file *os.File
	m    mmap.MMap
}

func openInput(path string) (*mappedInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	in := &mappedInput{Input: engine.Input{Name: filepath.Base(path)}, file: f}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		// mmap rejects empty files; the engine reports them itself.
		return in, nil
	}
	in.m, err = mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	in.Data = in.m
	return in, nil
}

func (in *mappedInput) Close() error {
	if in.m != nil {
		if err := in.m.Unmap(); err != nil {
			in.file.Close()
			return err
		}
	}
	return in.file.Close()
}

func openInputs(paths []string) ([]*mappedInput, error) {
	var out []*mappedInput
	for _, p := range paths {
		in, err := openInput(p)
		if err != nil {
			closeInputs(out)
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func closeInputs(ins []*mappedInput) {
	for _, in := range ins {
		in.Close()
	}
}

func writeOutput(dir string, out engine.Output) (string, error) {
	path := filepath.Join(dir, out.Name)
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
