package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

const pngDataURIPrefix = "data:image/png;base64,"

var ErrNotImage = errors.New("not an image")

// EncodeDataURI encodes the surface as a base64 PNG data URI.
func EncodeDataURI(s *Surface) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, s); err != nil {
		return "", err
	}
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func EncodePNG(w io.Writer, s *Surface) error {
	if err := png.Encode(w, unpremultiply(s.img)); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// unpremultiply converts to straight alpha, picking for each channel the
// smallest value that image/draw premultiplies back to the original byte,
// so a saved snapshot restores to exactly the pixels it was taken from.
func unpremultiply(src *image.RGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
		si := src.PixOffset(src.Rect.Min.X, y)
		di := dst.PixOffset(src.Rect.Min.X, y)
		for x := src.Rect.Min.X; x < src.Rect.Max.X; x, si, di = x+1, si+4, di+4 {
			a := uint32(src.Pix[si+3])
			dst.Pix[di+3] = uint8(a)
			switch a {
			case 0:
			case 0xff:
				copy(dst.Pix[di:di+3], src.Pix[si:si+3])
			default:
				for c := 0; c < 3; c++ {
					v := uint32(src.Pix[si+c])
					n := (v*0xff00 + a*0x101 - 1) / (a * 0x101)
					dst.Pix[di+c] = uint8(min(n, 0xff))
				}
			}
		}
	}
	return dst
}

// DecodeDataURI decodes an image data URI. PNG, JPEG and WebP payloads are
// accepted.
func DecodeDataURI(uri string) (image.Image, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: malformed data uri", ErrNotImage)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// DataURIFromImage reads an uploaded file and returns it as a data URI,
// rejecting anything that does not sniff as an image.
func DataURIFromImage(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}
