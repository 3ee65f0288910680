package scene

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// Color is a non premultiplied sRGB color, with alpha.
type Color struct {
	R, G, B, A uint8
}

// Black is the color used when none is given.
var Black = Color{0, 0, 0, 0xff}

// NRGBA returns the color for the image/color package.
func (c Color) NRGBA() color.NRGBA { return color.NRGBA{c.R, c.G, c.B, c.A} }

// Opacity returns the alpha channel in [0, 1].
func (c Color) Opacity() float64 { return float64(c.A) / 0xff }

// String returns the normalized form: #rrggbb, or #rrggbbaa
// when the color is not opaque.
func (c Color) String() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor accepts the CSS forms #rgb, #rgba, #rrggbb, #rrggbbaa,
// rgb(), rgba(), the SVG color keywords and "transparent".
func ParseColor(s string) (Color, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return Color{}, invalidColor(s)
	}
	if v == "transparent" {
		return Color{}, nil
	}
	if strings.HasPrefix(v, "#") {
		return parseHexColor(s, v[1:])
	}
	if args, ok := functionArgs(v, "rgba"); ok {
		return parseRGBFunction(s, args)
	}
	if args, ok := functionArgs(v, "rgb"); ok {
		return parseRGBFunction(s, args)
	}
	if c, ok := colornames.Map[v]; ok {
		return Color{c.R, c.G, c.B, c.A}, nil
	}
	return Color{}, invalidColor(s)
}

func invalidColor(s string) error {
	return domain.NewError("ParseColor", domain.ErrInvalidArgument, fmt.Sprintf("unsupported color %q", s))
}

func parseHexColor(orig, hex string) (Color, error) {
	switch len(hex) {
	case 3, 4: // #rgb(a): each digit is repeated
		expanded := make([]byte, 0, 8)
		for i := 0; i < len(hex); i++ {
			expanded = append(expanded, hex[i], hex[i])
		}
		hex = string(expanded)
	case 6, 8:
	default:
		return Color{}, invalidColor(orig)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	u, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, invalidColor(orig)
	}
	return Color{uint8(u >> 24), uint8(u >> 16), uint8(u >> 8), uint8(u)}, nil
}

// functionArgs returns the comma separated arguments of name(...).
func functionArgs(v, name string) ([]string, bool) {
	rest, ok := strings.CutPrefix(v, name)
	if !ok {
		return nil, false
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return nil, false
	}
	args := strings.Split(rest[1:len(rest)-1], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return args, true
}

func parseRGBFunction(orig string, args []string) (Color, error) {
	if len(args) != 3 && len(args) != 4 {
		return Color{}, invalidColor(orig)
	}
	var out [4]uint8
	out[3] = 0xff
	for i, arg := range args {
		var (
			f   float64
			err error
		)
		pct, isPct := strings.CutSuffix(arg, "%")
		f, err = strconv.ParseFloat(pct, 64)
		if err != nil || math.IsNaN(f) {
			return Color{}, invalidColor(orig)
		}
		switch {
		case isPct:
			f = f / 100 * 0xff
		case i == 3: // alpha is given in [0, 1]
			f *= 0xff
		}
		out[i] = uint8(math.Round(math.Max(0, math.Min(0xff, f))))
	}
	return Color{out[0], out[1], out[2], out[3]}, nil
}
