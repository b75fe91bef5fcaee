package internal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

const (
	iconSuffix = "HeadSSBM.png"

	leftPadding         = 4
	rightPadding        = 4
	iconLeftPadding     = 24
	iconSize            = 60
	rowHeight           = 70
	textFontSize        = 44
	headerFontSize      = 72
	headerHeight        = 72
	headerBottomPadding = 24
	minGraphicWidth     = 200

	defaultTitle = "Top 8"
)

var (
	inkColor       = color.NRGBA{R: 0x52, G: 0x3d, B: 0x30, A: 0xff}
	iconNameStrip  = regexp.MustCompile(`[.\s]+`)
	defaultFontTTF = gobold.TTF
)

// IconBaseName maps a character to its asset stem: "Mr. Game & Watch" ->
// "MrGame&Watch".
func IconBaseName(character string) string {
	return iconNameStrip.ReplaceAllString(character, "")
}

// DirIconResolver loads "<dir>/<IconBaseName>HeadSSBM.png". Missing or
// undecodable files resolve to nil.
type DirIconResolver struct {
	dir   string
	mu    sync.Mutex
	cache map[string]image.Image
}

func NewDirIconResolver(dir string) *DirIconResolver {
	return &DirIconResolver{dir: dir, cache: make(map[string]image.Image)}
}

func (r *DirIconResolver) Resolve(character string) image.Image {
	base := IconBaseName(character)
	if base == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if img, ok := r.cache[base]; ok {
		return img
	}

	var img image.Image
	f, err := os.Open(filepath.Join(r.dir, base+iconSuffix))
	if err == nil {
		img, err = png.Decode(f)
		f.Close()
		if err != nil {
			img = nil
		}
	}
	r.cache[base] = img
	return img
}

type GraphicRenderer struct {
	font  *sfnt.Font
	icons IconResolver
	title string
}

func NewGraphicRenderer(icons IconResolver) (*GraphicRenderer, error) {
	f, err := opentype.Parse(defaultFontTTF)
	if err != nil {
		return nil, fmt.Errorf("parse graphic font: %w", err)
	}
	return &GraphicRenderer{font: f, icons: icons, title: defaultTitle}, nil
}

func (r *GraphicRenderer) newFace(size float64) (font.Face, error) {
	return opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func rowLabel(e GraphicEntry) string {
	return strconv.Itoa(e.Place) + ". " + e.Name
}

// Render draws the header and one row per entry on a transparent canvas
// wide enough for the longest label plus the icon column.
func (r *GraphicRenderer) Render(entries []GraphicEntry) (*image.NRGBA, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	textFace, err := r.newFace(textFontSize)
	if err != nil {
		return nil, fmt.Errorf("text face: %w", err)
	}
	defer textFace.Close()

	headerFace, err := r.newFace(headerFontSize)
	if err != nil {
		return nil, fmt.Errorf("header face: %w", err)
	}
	defer headerFace.Close()

	maxRowTextWidth := 0
	for _, e := range entries {
		if w := font.MeasureString(textFace, rowLabel(e)).Ceil(); w > maxRowTextWidth {
			maxRowTextWidth = w
		}
	}
	headerWidth := font.MeasureString(headerFace, r.title).Ceil()

	width := max(
		leftPadding+maxRowTextWidth+iconLeftPadding+iconSize+rightPadding,
		leftPadding+headerWidth+rightPadding,
		minGraphicWidth,
	)
	height := headerHeight + headerBottomPadding + len(entries)*rowHeight

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	ink := image.NewUniform(inkColor)

	header := &font.Drawer{Dst: canvas, Src: ink, Face: headerFace}
	header.Dot = fixed.P((width-headerWidth)/2, middleBaseline(headerFace, headerHeight/2))
	header.DrawString(r.title)

	rows := &font.Drawer{Dst: canvas, Src: ink, Face: textFace}
	innerRight := width - rightPadding
	for i, e := range entries {
		y := headerHeight + headerBottomPadding + i*rowHeight
		label := rowLabel(e)

		rows.Dot = fixed.P(leftPadding, middleBaseline(textFace, y+rowHeight/2))
		rows.DrawString(label)

		if r.icons == nil {
			continue
		}
		icon := r.icons.Resolve(e.Character)
		if icon == nil {
			continue
		}

		textWidth := font.MeasureString(textFace, label).Ceil()
		iconX := leftPadding + textWidth + iconLeftPadding
		if iconX+iconSize > innerRight {
			iconX = innerRight - iconSize
		}
		iconY := y + (rowHeight-iconSize)/2
		dst := image.Rect(iconX, iconY, iconX+iconSize, iconY+iconSize)
		draw.CatmullRom.Scale(canvas, dst, icon, icon.Bounds(), draw.Over, nil)
	}

	return canvas, nil
}

// middleBaseline returns the baseline that vertically centres a line of
// text on centerY.
func middleBaseline(face font.Face, centerY int) int {
	m := face.Metrics()
	return centerY + int(math.Round(float64(m.Ascent-m.Descent)/2/64))
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func PNGDataURL(data []byte) string {
	var sb strings.Builder
	sb.WriteString("data:image/png;base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}
