package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/image-compositor/adapters/decoder"
	"github.com/Skryldev/image-compositor/adapters/vips"
	"github.com/Skryldev/image-compositor/core"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		b.Fatal(err)
	}
	return buf.Bytes()
}

func benchDecode(b *testing.B, dec core.Decoder, raw []byte) {
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Decode(context.Background(), bytes.NewReader(raw)); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func BenchmarkDecode_Stdlib_1920x1080(b *testing.B) {
	benchDecode(b, decoder.NewJPEG(), makeJPEG(b, 1920, 1080))
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	backend := vips.NewBackend(vips.BackendConfig{})
	defer backend.Shutdown()
	benchDecode(b, backend, makeJPEG(b, 1920, 1080))
}

// ─── Decode with shrink ───────────────────────────────────────────────────────

func BenchmarkDecodeShrink_Vips_4K(b *testing.B) {
	backend := vips.NewBackend(vips.BackendConfig{MaxDimension: 2048})
	defer backend.Shutdown()
	benchDecode(b, backend, makeJPEG(b, 3840, 2160))
}

func BenchmarkRegistry_VipsOverridesStdlib(b *testing.B) {
	backend := vips.NewBackend(vips.BackendConfig{})
	defer backend.Shutdown()

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	vips.RegisterVipsBackend(reg, backend)

	dec, ok := reg.DecoderFor(core.FormatJPEG)
	if !ok || dec != core.Decoder(backend) {
		b.Fatal("vips backend not registered for jpeg")
	}
	benchDecode(b, dec, makeJPEG(b, 800, 600))
}
