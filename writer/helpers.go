package writer

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/FrostLynn/frostlynnPDF/ir/raw"
)

func pdfVersion(doc *raw.Document, cfg Config) string {
	switch {
	case cfg.Version != "":
		return string(cfg.Version)
	case doc.Version != "":
		return doc.Version
	}
	return string(PDF17)
}

// fileID returns the trailer /ID pair. Deterministic output derives it from
// the serialized body, so identical documents get identical IDs.
func fileID(body []byte, version string, cfg Config) [2][]byte {
	seed := deterministicIDSeed(body, version)
	if cfg.Deterministic {
		return [2][]byte{seed, seed}
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		id = seed
	}
	return [2][]byte{id, bytes.Clone(id)}
}

func deterministicIDSeed(body []byte, version string) []byte {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write(body)
	return h.Sum(nil)[:16]
}

func buildTrailer(size int, trailer *raw.DictObj, ids [2][]byte) *raw.DictObj {
	out := raw.Dict()
	out.Set("Size", raw.NumberInt(int64(size)))
	for _, key := range []string{"Root", "Info"} {
		if v, ok := trailer.Get(key); ok {
			out.Set(key, v)
		}
	}
	out.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return out
}

func writeObject(b *bytes.Buffer, ref raw.ObjectRef, obj raw.Object) {
	fmt.Fprintf(b, "%d %d obj\n", ref.Num, ref.Gen)
	b.Write(serializePrimitive(obj))
	b.WriteString("\nendobj\n")
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Value()))
	case raw.NumberObj:
		return []byte(raw.FormatNumber(v))
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.IsHex() {
			dst := make([]byte, hex.EncodedLen(len(v.Value())))
			hex.Encode(dst, v.Value())
			return []byte("<" + strings.ToUpper(string(dst)) + ">")
		}
		return escapeLiteralString(v.Value())
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for i, k := range v.Keys() {
			if i > 0 {
				b.WriteByte(' ')
			}
			item, _ := v.Get(k)
			b.WriteString("/" + pdfNameLiteral(k) + " ")
			b.Write(serializePrimitive(item))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		var b bytes.Buffer
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		b.Write(serializePrimitive(dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// pdfNameLiteral escapes a decoded name. Everything outside the printable
// ASCII range, delimiters and '#' itself are written as #XX.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7F && !strings.ContainsRune("#()<>[]{}/%", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
