// Package scenepath holds the outlines filled on a canvas: the
// rectangles and circles of a scene are reduced to lines and cubic
// splines, in 26.6 fixed point, before reaching a painting driver.
package scenepath

import (
	"fmt"
	"strings"

	"golang.org/x/image/math/fixed"
)

// Adder accumulates path segments. rasterx.Filler and
// the PDF pather both satisfy it.
type Adder interface {
	// Start starts a new subpath at a.
	Start(a fixed.Point26_6)
	// Line adds a segment to b.
	Line(b fixed.Point26_6)
	// CubeBezier adds a cubic spline with control points b, c, ending at d.
	CubeBezier(b, c, d fixed.Point26_6)
	// Stop ends the subpath, closing it if closeLoop is true.
	Stop(closeLoop bool)
}

// Operation is one of MoveTo, LineTo, CubicTo and Close.
type Operation interface {
	isOperation()
}

type (
	MoveTo  fixed.Point26_6
	LineTo  fixed.Point26_6
	CubicTo [3]fixed.Point26_6
	Close   struct{}
)

func (MoveTo) isOperation()  {}
func (LineTo) isOperation()  {}
func (CubicTo) isOperation() {}
func (Close) isOperation()   {}

// Path is a sequence of operations. The zero value is an empty path.
type Path []Operation

func point(p fixed.Point26_6) string {
	return fmt.Sprintf("%.3f,%.3f", float64(p.X)/64, float64(p.Y)/64)
}

// String returns the path in SVG path data syntax, for debugging.
func (p Path) String() string {
	var sb strings.Builder
	for i, op := range p {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch op := op.(type) {
		case MoveTo:
			sb.WriteString("M" + point(fixed.Point26_6(op)))
		case LineTo:
			sb.WriteString("L" + point(fixed.Point26_6(op)))
		case CubicTo:
			sb.WriteString("C" + point(op[0]) + "," + point(op[1]) + "," + point(op[2]))
		case Close:
			sb.WriteString("Z")
		}
	}
	return sb.String()
}

// Clear empties the path, keeping its storage.
func (p *Path) Clear() { *p = (*p)[:0] }

func (p *Path) Start(a fixed.Point26_6) { *p = append(*p, MoveTo(a)) }

func (p *Path) Line(b fixed.Point26_6) { *p = append(*p, LineTo(b)) }

func (p *Path) CubeBezier(b, c, d fixed.Point26_6) { *p = append(*p, CubicTo{b, c, d}) }

func (p *Path) Stop(closeLoop bool) {
	if closeLoop {
		*p = append(*p, Close{})
	}
}

// AddTo replays the path into q, in order.
// The caller is responsible for the final q.Stop(false) when needed.
func (p Path) AddTo(q Adder) {
	for _, op := range p {
		switch op := op.(type) {
		case MoveTo:
			q.Start(fixed.Point26_6(op))
		case LineTo:
			q.Line(fixed.Point26_6(op))
		case CubicTo:
			q.CubeBezier(op[0], op[1], op[2])
		case Close:
			q.Stop(true)
		}
	}
}
