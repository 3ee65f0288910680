package scenepath

import (
	"math"

	"golang.org/x/image/math/fixed"
)

// This file implements the transformation from
// high level shapes to their path equivalent.
// Both renderers fill these exact outlines, so a circle
// is the same four cubic splines on screen and on paper.

// kappa is the distance of the control points from the on-curve points,
// relative to the radius, for a quarter circle approximated by one cubic.
var kappa = 4 * (math.Sqrt2 - 1) / 3

// toFixedP converts two floats to a fixed point.
func toFixedP(x, y float64) (p fixed.Point26_6) {
	p.X = fixed.Int26_6(math.Round(x * 64))
	p.Y = fixed.Int26_6(math.Round(y * 64))
	return
}

// Rect returns the outline of the rectangle with corner (x, y) and size
// (w, h). Negative sizes extend the rectangle left or up, as the
// HTML canvas does.
func Rect(x, y, w, h float64) Path {
	var p Path
	p.addRect(x, y, x+w, y+h)
	return p
}

// Circle returns the outline of the circle centered at (cx, cy).
func Circle(cx, cy, r float64) Path {
	var p Path
	p.addCircle(cx, cy, r)
	return p
}

// addRect adds a rectangle, starting at (minX, minY)
// and turning clockwise on screen.
func (p *Path) addRect(minX, minY, maxX, maxY float64) {
	p.Start(toFixedP(minX, minY))
	p.Line(toFixedP(maxX, minY))
	p.Line(toFixedP(maxX, maxY))
	p.Line(toFixedP(minX, maxY))
	p.Stop(true)
}

// addCircle adds a full circle, as four cubic bezier quarters,
// starting on the right-most point and turning clockwise on screen.
func (p *Path) addCircle(cx, cy, r float64) {
	k := kappa * r
	p.Start(toFixedP(cx+r, cy))
	p.CubeBezier(toFixedP(cx+r, cy+k), toFixedP(cx+k, cy+r), toFixedP(cx, cy+r))
	p.CubeBezier(toFixedP(cx-k, cy+r), toFixedP(cx-r, cy+k), toFixedP(cx-r, cy))
	p.CubeBezier(toFixedP(cx-r, cy-k), toFixedP(cx-k, cy-r), toFixedP(cx, cy-r))
	p.CubeBezier(toFixedP(cx+k, cy-r), toFixedP(cx+r, cy-k), toFixedP(cx+r, cy))
	p.Stop(true)
}
