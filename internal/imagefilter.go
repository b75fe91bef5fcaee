package internal

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	defaultBackgroundTolerance = 40

	// maxFilterPixels bounds the decoded size of an upload. The compressed
	// body limit says nothing about the dimensions a header declares.
	maxFilterPixels = 40_000_000
)

// FilterOptions: Hue is a rotation in degrees, Saturation and Lightness are
// offsets in percentage points (-100..100).
type FilterOptions struct {
	Hue              float64 `json:"hue"`
	Saturation       float64 `json:"saturation"`
	Lightness        float64 `json:"lightness"`
	RemoveBackground bool    `json:"remove_background"`
	Tolerance        float64 `json:"tolerance,omitempty"`
}

func DefaultFilterOptions(cfg *Config) FilterOptions {
	return FilterOptions{
		Hue:        cfg.FilterHue,
		Saturation: cfg.FilterSaturation,
		Lightness:  cfg.FilterLightness,
	}
}

type StdImageDecoder struct{}

func (StdImageDecoder) DecodeConfig(r io.Reader) (image.Config, string, error) {
	return image.DecodeConfig(r)
}

func (StdImageDecoder) Decode(r io.Reader) (image.Image, string, error) {
	return image.Decode(r)
}

type ImageFilterService struct {
	decoder  ImageDecoder
	defaults FilterOptions
	logger   *Logger
}

func NewImageFilterService(decoder ImageDecoder, defaults FilterOptions, logger *Logger) *ImageFilterService {
	if decoder == nil {
		decoder = StdImageDecoder{}
	}
	return &ImageFilterService{decoder: decoder, defaults: defaults, logger: logger}
}

func (s *ImageFilterService) Defaults() FilterOptions {
	return s.defaults
}

// Filter decodes an uploaded image, applies opts and returns PNG bytes.
func (s *ImageFilterService) Filter(r io.Reader, opts FilterOptions) ([]byte, error) {
	var header bytes.Buffer
	cfg, _, err := s.decoder.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkPixelBudget(cfg); err != nil {
		s.logger.Warn("image_too_large").
			Component("image_filter").
			Operation("filter").
			Meta("width", cfg.Width).
			Meta("height", cfg.Height).
			Log()
		return nil, err
	}

	src, format, err := s.decoder.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	out := ApplyHSLFilter(src, opts)
	data, err := EncodePNG(out)
	if err != nil {
		return nil, err
	}

	s.logger.Info("image_filtered").
		Component("image_filter").
		Operation("filter").
		Meta("format", format).
		Meta("width", out.Bounds().Dx()).
		Meta("height", out.Bounds().Dy()).
		Meta("remove_background", opts.RemoveBackground).
		Log()

	return data, nil
}

func checkPixelBudget(cfg image.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxFilterPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxFilterPixels)
	}
	return nil
}

func ApplyHSLFilter(src image.Image, opts FilterOptions) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.SetNRGBA(x, y, shiftHSL(c, opts))
		}
	}

	if opts.RemoveBackground {
		tolerance := opts.Tolerance
		if tolerance <= 0 {
			tolerance = defaultBackgroundTolerance
		}
		// the mask is computed on the unfiltered colours
		mask := backgroundMask(src, tolerance)
		for i, isBackground := range mask {
			if isBackground {
				out.Pix[i*4+3] = 0
			}
		}
	}

	return out
}

func shiftHSL(c color.NRGBA, opts FilterOptions) color.NRGBA {
	h, s, l := rgbToHSL(c.R, c.G, c.B)
	h = math.Mod(h+opts.Hue, 360)
	if h < 0 {
		h += 360
	}
	s = clamp01(s + opts.Saturation/100)
	l = clamp01(l + opts.Lightness/100)
	r, g, bl := hslToRGB(h, s, l)
	return color.NRGBA{R: r, G: g, B: bl, A: c.A}
}

// backgroundMask flood-fills from the image border over pixels close to the
// top-left corner colour. Fully transparent pixels always count as
// background. The returned slice is indexed y*width+x.
func backgroundMask(src image.Image, tolerance float64) []bool {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	if w == 0 || h == 0 {
		return mask
	}

	at := func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
	}
	bg := at(0, 0)
	isBackground := func(c color.NRGBA) bool {
		if c.A == 0 {
			return true
		}
		dr := float64(c.R) - float64(bg.R)
		dg := float64(c.G) - float64(bg.G)
		db := float64(c.B) - float64(bg.B)
		return math.Sqrt(dr*dr+dg*dg+db*db) <= tolerance
	}

	queue := make([]image.Point, 0, 2*(w+h))
	visit := func(x, y int) {
		i := y*w + x
		if mask[i] || !isBackground(at(x, y)) {
			return
		}
		mask[i] = true
		queue = append(queue, image.Pt(x, y))
	}

	for x := 0; x < w; x++ {
		visit(x, 0)
		visit(x, h-1)
	}
	for y := 0; y < h; y++ {
		visit(0, y)
		visit(w-1, y)
	}

	for len(queue) > 0 {
		p := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if p.X > 0 {
			visit(p.X-1, p.Y)
		}
		if p.X < w-1 {
			visit(p.X+1, p.Y)
		}
		if p.Y > 0 {
			visit(p.X, p.Y-1)
		}
		if p.Y < h-1 {
			visit(p.X, p.Y+1)
		}
	}

	return mask
}

func rgbToHSL(r8, g8, b8 uint8) (h, s, l float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	l = (maxC + minC) / 2

	d := maxC - minC
	if d == 0 {
		return 0, 0, l
	}

	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}

	switch maxC {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h * 60, s, l
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := to8(l)
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := h / 360

	return to8(hueToRGB(p, q, hk+1.0/3)), to8(hueToRGB(p, q, hk)), to8(hueToRGB(p, q, hk-1.0/3))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
