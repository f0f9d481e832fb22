package scanner

import (
	"bytes"
	"testing"
)

func FuzzScanner(f *testing.F) {
	for _, seed := range []string{
		"1 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n",
		"<< /Length 5 >>\nstream\nhello\nendstream",
		"xref\n0 1\n0000000000 65535 f \ntrailer\n<< /Size 1 >>\nstartxref\n9\n%%EOF",
		"(a\\(b\\)\\101) <4A4B4> /N#41me -.5 +7",
		"BI /W 1 /H 1 ID \x00 EI",
		"[[[[",
	} {
		f.Add([]byte(seed))
	}

	cfg := Config{
		MaxStringLength: 1024,
		MaxArrayDepth:   10,
		MaxDictDepth:    10,
		MaxStreamLength: 1024,
		WindowSize:      16,
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		for _, s := range []Scanner{New(bytes.NewReader(data), cfg), NewBytes(data, cfg)} {
			for {
				tok, err := s.Next()
				if err != nil {
					break
				}
				if tok.Pos < 0 || tok.Pos > int64(len(data)) {
					t.Fatalf("token %v at %d outside input of %d bytes", tok.Type, tok.Pos, len(data))
				}
			}
		}
	})
}
