package scene

import (
	"github.com/benoitkugler/okcanvas/scenepath"
)

// Kind identifies the type of a command.
type Kind uint8

const (
	KindRectangle Kind = iota // Filled axis aligned rectangle
	KindCircle                // Filled circle
	KindText                  // Single line of text
	KindImage                 // Raster image, scaled to a box
)

// kindNames maps Kind values to their wire representation.
var kindNames = [...]string{
	KindRectangle: "rectangle",
	KindCircle:    "circle",
	KindText:      "text",
	KindImage:     "image",
}

// String returns the name used in the command log.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// parseKind is the inverse of Kind.String.
func parseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Command is one resolved draw instruction.
// Every field holds the value actually painted: defaults
// have been substituted before the command reached the log.
// The set of implementations is closed.
type Command interface {
	Kind() Kind
	isCommand()
}

// Rectangle fills the box with corner (X, Y) and size (Width, Height).
type Rectangle struct {
	X, Y, Width, Height float64
	Color               Color
}

// Circle fills the disk centered at (X, Y).
type Circle struct {
	X, Y, Radius float64
	Color        Color
}

// Text paints Content with its baseline starting at (X, Y).
type Text struct {
	Content    string
	X, Y       float64
	FontSize   float64
	FontFamily string
	Color      Color
}

// Image paints the picture referenced by Source in the box with
// corner (X, Y) and size (Width, Height), in pixels.
type Image struct {
	Source              SourceRef
	X, Y, Width, Height int
}

func (Rectangle) Kind() Kind { return KindRectangle }
func (Circle) Kind() Kind    { return KindCircle }
func (Text) Kind() Kind      { return KindText }
func (Image) Kind() Kind     { return KindImage }

func (Rectangle) isCommand() {}
func (Circle) isCommand()    {}
func (Text) isCommand()      {}
func (Image) isCommand()     {}

// Outline returns the path filled by the rectangle.
func (r Rectangle) Outline() scenepath.Path {
	return scenepath.Rect(r.X, r.Y, r.Width, r.Height)
}

// Outline returns the path filled by the circle.
func (c Circle) Outline() scenepath.Path {
	return scenepath.Circle(c.X, c.Y, c.Radius)
}
