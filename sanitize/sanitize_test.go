package sanitize

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestImage_PNGTrimsTrailingGarbage(t *testing.T) {
	clean := encodePNG(t)
	padded := append(append([]byte{}, clean...), bytes.Repeat([]byte{0x00}, 1024)...)

	trimmed := Image(padded)
	if !bytes.Equal(trimmed, clean) {
		t.Fatalf("expected trimmed PNG to equal clean original, lens %d vs %d", len(trimmed), len(clean))
	}
}

func TestImage_NoTrimmingNoReallocation(t *testing.T) {
	clean := encodePNG(t)
	out := Image(clean)
	if &out[0] != &clean[0] {
		t.Fatal("expected same underlying array when no trimming needed")
	}
}

func TestImage_JPEGTrimsAfterEOI(t *testing.T) {
	jpeg := append([]byte{0xFF, 0xD8}, []byte("...scan data...")...)
	jpeg = append(jpeg, 0xFF, 0xD9)
	padded := append(append([]byte{}, jpeg...), []byte("trailer junk")...)

	trimmed := Image(padded)
	if !bytes.Equal(trimmed, jpeg) {
		t.Fatalf("expected jpeg trimmed to EOI, got %d bytes want %d", len(trimmed), len(jpeg))
	}
}

func TestImage_GIFTrimsAfterTrailer(t *testing.T) {
	gif := append([]byte("GIF89a"), []byte("frame data")...)
	gif = append(gif, 0x3B)
	padded := append(append([]byte{}, gif...), []byte("junk")...)

	trimmed := Image(padded)
	if !bytes.Equal(trimmed, gif) {
		t.Fatalf("expected gif trimmed to trailer, got %d bytes want %d", len(trimmed), len(gif))
	}
}

func TestImage_UnknownMagicUnchanged(t *testing.T) {
	data := []byte("not an image at all")
	out := Image(data)
	if !bytes.Equal(out, data) {
		t.Fatal("expected unknown magic to be returned unchanged")
	}
}
