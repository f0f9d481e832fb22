package overlay

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"github.com/FrostLynn/frostlynnPDF/filters"
	"github.com/FrostLynn/frostlynnPDF/ir/raw"
	"github.com/FrostLynn/frostlynnPDF/pdferr"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// PNG color types.
const (
	colorGray      = 0
	colorRGB       = 2
	colorPalette   = 3
	colorGrayAlpha = 4
	colorRGBA      = 6
)

// ErrBadImage is returned for image data that cannot be decoded.
var ErrBadImage = errors.New("invalid image data")

// Image is a raster ready to be placed on a page.
type Image struct {
	Data   []byte // encoded file as supplied
	Format string // always "png"
	Width  int
	Height int

	bitDepth  int
	colorType int
	interlace bool
	palette   []byte
	hasTRNS   bool
	idat      []byte
}

// DecodePNG reads the header chunks of a PNG file. Pixel data is only
// decoded when the image has to be converted for embedding.
func DecodePNG(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%w: missing PNG signature", ErrBadImage)
	}
	img := &Image{Data: data, Format: "png"}
	var idat bytes.Buffer
	rest := data[len(pngSignature):]
	seenHeader := false
	for {
		if len(rest) < 12 {
			return nil, fmt.Errorf("%w: truncated chunk", ErrBadImage)
		}
		n := binary.BigEndian.Uint32(rest[:4])
		if uint64(n)+12 > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: chunk length %d overruns file", ErrBadImage, n)
		}
		typ := string(rest[4:8])
		body := rest[8 : 8+n]
		if crc32.ChecksumIEEE(rest[4:8+n]) != binary.BigEndian.Uint32(rest[8+n:12+n]) {
			return nil, fmt.Errorf("%w: bad CRC in %s chunk", ErrBadImage, typ)
		}
		rest = rest[12+n:]

		switch typ {
		case "IHDR":
			if len(body) != 13 {
				return nil, fmt.Errorf("%w: bad IHDR", ErrBadImage)
			}
			img.Width = int(binary.BigEndian.Uint32(body[0:4]))
			img.Height = int(binary.BigEndian.Uint32(body[4:8]))
			img.bitDepth = int(body[8])
			img.colorType = int(body[9])
			img.interlace = body[12] == 1
			seenHeader = true
		case "PLTE":
			img.palette = body
		case "tRNS":
			img.hasTRNS = true
		case "IDAT":
			idat.Write(body)
		case "IEND":
			if !seenHeader || idat.Len() == 0 {
				return nil, fmt.Errorf("%w: missing IHDR or IDAT", ErrBadImage)
			}
			if img.Width <= 0 || img.Height <= 0 {
				return nil, fmt.Errorf("%w: empty image", ErrBadImage)
			}
			img.idat = idat.Bytes()
			return img, nil
		}
	}
}

// FromDataURL decodes a "data:image/png;base64,..." URL.
func FromDataURL(url string) (*Image, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: not a data URL", ErrBadImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: data URL has no payload", ErrBadImage)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if mediaType != "image/png" {
		return nil, pdferr.Unsupported("image format " + mediaType)
	}
	if !isBase64 {
		return nil, fmt.Errorf("%w: data URL is not base64", ErrBadImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return DecodePNG(data)
}

// passthrough reports whether the compressed PNG rows can be used as the
// image stream unchanged. PDF's Flate predictor 15 understands PNG row
// filters, so only the features PDF cannot express force a conversion.
func (img *Image) passthrough() bool {
	if img.interlace || img.hasTRNS {
		return false
	}
	switch img.colorType {
	case colorGray, colorRGB:
		return true
	case colorPalette:
		return len(img.palette) >= 3
	}
	return false
}

func (img *Image) colors() int {
	if img.colorType == colorRGB {
		return 3
	}
	return 1
}

// objects builds the image XObject and, for converted images with
// transparency, its soft mask.
func (img *Image) objects() (*raw.StreamObj, *raw.StreamObj, error) {
	if img.passthrough() {
		return img.direct(), nil, nil
	}
	return img.converted()
}

func (img *Image) direct() *raw.StreamObj {
	d := imageDict(img.Width, img.Height, img.bitDepth)
	switch img.colorType {
	case colorGray:
		d.Set("ColorSpace", raw.NameLiteral("DeviceGray"))
	case colorRGB:
		d.Set("ColorSpace", raw.NameLiteral("DeviceRGB"))
	case colorPalette:
		entries := len(img.palette) / 3
		d.Set("ColorSpace", raw.NewArray(
			raw.NameLiteral("Indexed"),
			raw.NameLiteral("DeviceRGB"),
			raw.NumberInt(int64(entries-1)),
			raw.HexStr(img.palette[:entries*3]),
		))
	}
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	parms := raw.Dict()
	parms.Set("Predictor", raw.NumberInt(15))
	parms.Set("Colors", raw.NumberInt(int64(img.colors())))
	parms.Set("BitsPerComponent", raw.NumberInt(int64(img.bitDepth)))
	parms.Set("Columns", raw.NumberInt(int64(img.Width)))
	d.Set("DecodeParms", parms)
	return raw.NewStream(d, img.idat)
}

// converted expands the image to 8-bit RGB plus an 8-bit alpha mask. Both
// are stored losslessly.
func (img *Image) converted() (*raw.StreamObj, *raw.StreamObj, error) {
	src, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	b := src.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)

	n := b.Dx() * b.Dy()
	rgb := make([]byte, 0, n*3)
	alpha := make([]byte, 0, n)
	opaque := true
	for i := 0; i < n; i++ {
		px := nrgba.Pix[i*4 : i*4+4]
		rgb = append(rgb, px[0], px[1], px[2])
		alpha = append(alpha, px[3])
		if px[3] != 0xFF {
			opaque = false
		}
	}

	enc, err := filters.EncodeFlate(rgb)
	if err != nil {
		return nil, nil, err
	}
	d := imageDict(b.Dx(), b.Dy(), 8)
	d.Set("ColorSpace", raw.NameLiteral("DeviceRGB"))
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	color := raw.NewStream(d, enc)
	if opaque {
		return color, nil, nil
	}

	enc, err = filters.EncodeFlate(alpha)
	if err != nil {
		return nil, nil, err
	}
	md := imageDict(b.Dx(), b.Dy(), 8)
	md.Set("ColorSpace", raw.NameLiteral("DeviceGray"))
	md.Set("Filter", raw.NameLiteral("FlateDecode"))
	return color, raw.NewStream(md, enc), nil
}

func imageDict(w, h, bpc int) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(w)))
	d.Set("Height", raw.NumberInt(int64(h)))
	d.Set("BitsPerComponent", raw.NumberInt(int64(bpc)))
	return d
}
