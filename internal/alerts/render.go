package alerts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// PlaceholderRenderer produces a small deterministic PNG per ticker. It
// stands in for a real charting backend; the pipeline only depends on the
// Renderer contract, not on what the image shows.
type PlaceholderRenderer struct {
	Dir    string
	Width  int
	Height int
	Suffix string // distinguishes chart from gauge files
}

// NewPlaceholderRenderer builds a renderer writing into dir.
func NewPlaceholderRenderer(dir, suffix string) *PlaceholderRenderer {
	return &PlaceholderRenderer{Dir: dir, Width: 320, Height: 120, Suffix: suffix}
}

// Render writes the ticker's placeholder image and returns its path. The
// pixels are a function of the ticker alone, so repeated renders are
// byte-identical.
func (p *PlaceholderRenderer) Render(_ context.Context, ticker string) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("chart dir: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	seed := sha256.Sum256([]byte(ticker + "|" + p.Suffix))
	for x := 0; x < p.Width; x++ {
		h := int(seed[x%len(seed)]) * p.Height / 256
		for y := 0; y < p.Height; y++ {
			c := color.RGBA{R: 24, G: 26, B: 32, A: 255}
			if p.Height-y <= h {
				c = color.RGBA{R: 88, G: 166, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(p.Dir, fmt.Sprintf("%s-%s.png", ticker, p.Suffix))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("chart file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("chart encode: %w", err)
	}
	return path, nil
}
