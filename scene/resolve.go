package scene

import (
	"fmt"
	"math"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// This file centralizes the substitution of defaults, so that
// every renderer consumes the exact same values.

// DefaultFontSize is used for text commands without size.
const DefaultFontSize = 20

// MaxFontSize bounds the size of text commands, in points.
// Glyphs are rasterized whole, so their memory grows with the square
// of the size.
const MaxFontSize = 1000

// RectangleSpec is a rectangle as requested by a client.
type RectangleSpec struct {
	X, Y, Width, Height float64
	Color               string // optional
}

// CircleSpec is a circle as requested by a client.
type CircleSpec struct {
	X, Y, Radius float64
	Color        string // optional
}

// TextSpec is a text as requested by a client.
type TextSpec struct {
	Text       string
	X, Y       float64
	FontSize   float64 // optional, 0 means default
	FontFamily string  // optional
	Color      string  // optional
}

// ImageSpec is the placement of an image as requested by a client.
// Zero Width or Height means "use the intrinsic size".
type ImageSpec struct {
	X, Y, Width, Height float64
}

func (s RectangleSpec) Resolve() (Rectangle, error) {
	if err := checkFinite("Rectangle", s.X, s.Y, s.Width, s.Height); err != nil {
		return Rectangle{}, err
	}
	c, err := resolveColor(s.Color)
	if err != nil {
		return Rectangle{}, err
	}
	return Rectangle{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height, Color: c}, nil
}

func (s CircleSpec) Resolve() (Circle, error) {
	if err := checkFinite("Circle", s.X, s.Y, s.Radius); err != nil {
		return Circle{}, err
	}
	if s.Radius < 0 {
		return Circle{}, domain.NewError("Circle", domain.ErrInvalidArgument, fmt.Sprintf("negative radius %g", s.Radius))
	}
	c, err := resolveColor(s.Color)
	if err != nil {
		return Circle{}, err
	}
	return Circle{X: s.X, Y: s.Y, Radius: s.Radius, Color: c}, nil
}

func (s TextSpec) Resolve() (Text, error) {
	if s.Text == "" {
		return Text{}, domain.NewError("Text", domain.ErrInvalidArgument, "missing text")
	}
	if err := checkFinite("Text", s.X, s.Y, s.FontSize); err != nil {
		return Text{}, err
	}
	if s.FontSize < 0 {
		return Text{}, domain.NewError("Text", domain.ErrInvalidArgument, fmt.Sprintf("negative font size %g", s.FontSize))
	}
	if s.FontSize > MaxFontSize {
		return Text{}, domain.NewError("Text", domain.ErrInvalidArgument,
			fmt.Sprintf("font size %g exceeds %d", s.FontSize, MaxFontSize))
	}
	c, err := resolveColor(s.Color)
	if err != nil {
		return Text{}, err
	}
	out := Text{Content: s.Text, X: s.X, Y: s.Y, FontSize: s.FontSize, FontFamily: s.FontFamily, Color: c}
	if out.FontSize == 0 {
		out.FontSize = DefaultFontSize
	}
	if out.FontFamily == "" {
		out.FontFamily = DefaultFontFamily
	}
	return out, nil
}

// Resolve places the image with the given intrinsic size. Coordinates
// are truncated to whole pixels.
func (s ImageSpec) Resolve(src SourceRef, intrinsicWidth, intrinsicHeight int) (Image, error) {
	if err := checkFinite("Image", s.X, s.Y, s.Width, s.Height); err != nil {
		return Image{}, err
	}
	if s.Width < 0 || s.Height < 0 {
		return Image{}, domain.NewError("Image", domain.ErrInvalidArgument, fmt.Sprintf("negative size %gx%g", s.Width, s.Height))
	}
	out := Image{
		Source: src,
		X:      int(s.X),
		Y:      int(s.Y),
		Width:  int(s.Width),
		Height: int(s.Height),
	}
	if out.Width == 0 {
		out.Width = intrinsicWidth
	}
	if out.Height == 0 {
		out.Height = intrinsicHeight
	}
	return out, nil
}

func resolveColor(s string) (Color, error) {
	if s == "" {
		return Black, nil
	}
	return ParseColor(s)
}

func checkFinite(op string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewError(op, domain.ErrInvalidArgument, "non finite number")
		}
	}
	return nil
}
