package internal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIconBaseName(t *testing.T) {
	tests := []struct {
		character string
		want      string
	}{
		{"Mr. Game & Watch", "MrGame&Watch"},
		{"Captain Falcon", "CaptainFalcon"},
		{"Dr. Mario", "DrMario"},
		{"Fox", "Fox"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := IconBaseName(tt.character); got != tt.want {
			t.Errorf("IconBaseName(%q): expected %q, got %q", tt.character, tt.want, got)
		}
	}
}

func TestDirIconResolver(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	png.Encode(&buf, solidIcon(color.White))
	if err := os.WriteFile(filepath.Join(dir, "CaptainFalconHeadSSBM.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "FoxHeadSSBM.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}

	r := NewDirIconResolver(dir)

	if img := r.Resolve("Captain Falcon"); img == nil || img.Bounds().Dx() != 16 {
		t.Errorf("expected 16px icon, got %v", img)
	}
	if img := r.Resolve("Fox"); img != nil {
		t.Error("undecodable icon should resolve to nil")
	}
	if img := r.Resolve("Kirby"); img != nil {
		t.Error("missing icon should resolve to nil")
	}
	if img := r.Resolve(""); img != nil {
		t.Error("empty character should resolve to nil")
	}
}

func newTestRenderer(t *testing.T, icons IconResolver) *GraphicRenderer {
	t.Helper()
	r, err := NewGraphicRenderer(icons)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	return r
}

func TestRender_Empty(t *testing.T) {
	r := newTestRenderer(t, nil)
	if _, err := r.Render(nil); !errors.Is(err, ErrNoEntries) {
		t.Errorf("expected ErrNoEntries, got %v", err)
	}
}

func TestRender_Dimensions(t *testing.T) {
	r := newTestRenderer(t, nil)
	entries := []GraphicEntry{
		{Place: 1, Name: "Zain", Character: "Marth"},
		{Place: 2, Name: "Cody", Character: "Fox"},
		{Place: 3, Name: "Mango", Character: "Falco"},
	}

	img, err := r.Render(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantHeight := headerHeight + headerBottomPadding + 3*rowHeight
	if img.Bounds().Dy() != wantHeight {
		t.Errorf("expected height %d, got %d", wantHeight, img.Bounds().Dy())
	}
	if img.Bounds().Dx() < minGraphicWidth {
		t.Errorf("width %d below minimum", img.Bounds().Dx())
	}

	again, _ := r.Render(entries)
	if !bytes.Equal(img.Pix, again.Pix) {
		t.Error("rendering the same rows twice should be deterministic")
	}
}

func TestRender_WidthGrowsWithLongestName(t *testing.T) {
	r := newTestRenderer(t, nil)

	short, _ := r.Render([]GraphicEntry{{Place: 1, Name: "S2J", Character: "Captain Falcon"}})
	long, _ := r.Render([]GraphicEntry{{Place: 1, Name: "Hungrybox the Jigglypuff player", Character: "Jigglypuff"}})

	if long.Bounds().Dx() <= short.Bounds().Dx() {
		t.Errorf("expected long name to widen the graphic: %d vs %d", long.Bounds().Dx(), short.Bounds().Dx())
	}
}

func TestRender_DrawsIconAndSkipsMissing(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	icons := staticIcons{"Fox": solidIcon(red)}
	r := newTestRenderer(t, icons)

	img, err := r.Render([]GraphicEntry{
		{Place: 1, Name: "A", Character: "Fox"},
		{Place: 2, Name: "B", Character: "Kirby"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	countRed := func(y0 int) int {
		n := 0
		for y := y0; y < y0+rowHeight; y++ {
			for x := 0; x < img.Bounds().Dx(); x++ {
				c := img.NRGBAAt(x, y)
				if c.R > 200 && c.G < 50 && c.B < 50 && c.A > 200 {
					n++
				}
			}
		}
		return n
	}

	firstRow := headerHeight + headerBottomPadding
	if countRed(firstRow) == 0 {
		t.Error("expected icon pixels in the first row")
	}
	if countRed(firstRow+rowHeight) != 0 {
		t.Error("row without an icon should have no icon pixels")
	}
}

func TestRender_TransparentBackground(t *testing.T) {
	r := newTestRenderer(t, nil)
	img, _ := r.Render([]GraphicEntry{{Place: 1, Name: "Zain", Character: "Marth"}})

	if a := img.NRGBAAt(img.Bounds().Dx()-1, img.Bounds().Dy()-1).A; a != 0 {
		t.Errorf("expected transparent corner, got alpha %d", a)
	}
}

func TestEncodePNGAndDataURL(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url := PNGDataURL(data)
	encoded, ok := strings.CutPrefix(url, "data:image/png;base64,")
	if !ok {
		t.Fatalf("unexpected prefix: %.30s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if decoded.Bounds().Dx() != 3 || decoded.Bounds().Dy() != 2 {
		t.Errorf("unexpected bounds %v", decoded.Bounds())
	}
}
