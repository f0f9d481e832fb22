package raw

import (
	"context"
	"errors"
	"fmt"

	"github.com/FrostLynn/frostlynnPDF/recovery"
	"github.com/FrostLynn/frostlynnPDF/scanner"
)

// TokenReader builds objects from scanner tokens. It supports pushing tokens
// back, which the object syntax needs to tell "1 0 obj" from a number.
type TokenReader struct {
	s        scanner.Scanner
	buf      []scanner.Token
	rec      recovery.Strategy
	loc      recovery.Location
	maxDepth int
}

func NewTokenReader(s scanner.Scanner, rec recovery.Strategy) *TokenReader {
	return &TokenReader{s: s, rec: rec, maxDepth: 256}
}

// SetMaxDepth bounds array and dictionary nesting.
func (r *TokenReader) SetMaxDepth(n int) {
	if n > 0 {
		r.maxDepth = n
	}
}

// SetLocation attaches object coordinates to recovery reports.
func (r *TokenReader) SetLocation(loc recovery.Location) {
	r.loc = loc
	if rl, ok := r.s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		rl.SetRecoveryLocation(loc)
	}
}

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// ReadObject reads one direct value.
func (r *TokenReader) ReadObject() (Object, error) {
	return r.readObject(0)
}

func (r *TokenReader) readObject(depth int) (Object, error) {
	if depth > r.maxDepth {
		return nil, errors.New("object nesting too deep")
	}
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return RefObj{R: ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return r.readArray(depth + 1)
	case scanner.TokenDict:
		return r.readDict(depth + 1)
	}
	return nil, fmt.Errorf("unexpected %s token %q at offset %d", tok.Type, tok.Str, tok.Pos)
}

func (r *TokenReader) readArray(depth int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, r.unterminated("array", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" {
			r.Unread(tok)
			return arr, r.unterminated("array", errors.New("unexpected endobj in array (missing ]?)"))
		}
		r.Unread(tok)
		item, err := r.readObject(depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *TokenReader) readDict(depth int) (Object, error) {
	d := Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, r.unterminated("dict", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" {
			r.Unread(tok)
			if err := r.unterminated("dict", errors.New("unexpected endobj in dict (missing >>?)")); err != nil {
				return nil, err
			}
			return d, nil
		}
		if tok.Type == scanner.TokenStream {
			r.Unread(tok)
			if err := r.unterminated("dict", errors.New("unexpected stream in dict (missing >>?)")); err != nil {
				return nil, err
			}
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict, got %s at offset %d", tok.Type, tok.Pos)
		}
		val, err := r.readObject(depth)
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent key.
		if _, isNull := val.(NullObj); isNull {
			continue
		}
		d.Set(tok.Str, val)
	}
}

// unterminated asks the recovery strategy whether a container cut short by
// cause may be closed implicitly. It returns nil when it may.
func (r *TokenReader) unterminated(kind string, cause error) error {
	loc := r.loc
	if loc.Component != "" {
		loc.Component += "->"
	}
	loc.Component += "object:" + kind
	loc.ByteOffset = r.s.Position()
	if recovery.Decide(context.Background(), r.rec, cause, loc).Continue() {
		return nil
	}
	return cause
}

// LengthFunc resolves a stream dictionary's /Length. A negative result means
// unknown.
type LengthFunc func(*DictObj) int64

// DirectLength reads a direct integer /Length.
func DirectLength(d *DictObj) int64 {
	if n, ok := d.GetInt("Length"); ok && n >= 0 {
		return n
	}
	return -1
}

// ReadIndirect reads "num gen obj value [stream] endobj" at the current
// position. The trailing endobj is optional.
func (r *TokenReader) ReadIndirect(length LengthFunc) (ObjectRef, Object, error) {
	num, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	gen, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	kw, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || gen.Type != scanner.TokenNumber || !gen.IsInt ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return ObjectRef{}, nil, fmt.Errorf("no object header at offset %d", num.Pos)
	}
	ref := ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	if dict, ok := obj.(*DictObj); ok {
		if length == nil {
			length = DirectLength
		}
		r.s.SetNextStreamLength(length(dict))
		tok, err := r.Next()
		if err == nil && tok.Type == scanner.TokenStream {
			obj = &StreamObj{Dict: dict, Data: tok.Bytes}
		} else if err == nil {
			r.Unread(tok)
		}
		r.s.SetNextStreamLength(-1)
	}
	if tok, err := r.Next(); err == nil && !(tok.Type == scanner.TokenKeyword && tok.Str == "endobj") {
		r.Unread(tok)
	}
	return ref, obj, nil
}
