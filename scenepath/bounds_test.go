package scenepath

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"golang.org/x/image/math/fixed"
)

func randPoint(rd *rand.Rand, offsetx, offsety int) fixed.Point26_6 {
	x, y := rd.Intn(1100), rd.Intn(1000)
	return fixed.Point26_6{X: fixed.Int26_6(x + offsetx), Y: fixed.Int26_6(y + offsety)}
}

func generateCurve(rd *rand.Rand, order int, offsetx, offsety int) bezier {
	a := randPoint(rd, offsetx, offsety)
	b := randPoint(rd, offsetx, offsety)
	switch order {
	case 1:
		return line{a, b}
	default:
		c := randPoint(rd, offsetx, offsety)
		d := randPoint(rd, offsetx, offsety)
		return cubicBezier{a, b, c, d}
	}
}

// the box must contain every sampled point of the curve
func TestBoundingBox(t *testing.T) {
	rd := rand.New(rand.NewSource(1))
	const eps = 1e-6
	for i := range [100]int{} {
		curve := generateCurve(rd, 1+i%2*2, i<<10+500, i<<10+500)
		minX, minY, maxX, maxY := computeBoundingBox(curve)
		for s := 0; s <= 200; s++ {
			x, y := curve.evaluateCurve(float64(s) / 200)
			if x < minX-eps || x > maxX+eps || y < minY-eps || y > maxY+eps {
				t.Fatalf("point (%f, %f) outside box [%f %f %f %f] for %v", x, y, minX, minY, maxX, maxY, curve)
			}
		}
	}
}

func TestQuadraticRoots(t *testing.T) {
	if r := quadraticRoots(1, 0, 1); r != nil {
		t.Fatalf("expected no real roots, got %v", r)
	}
	if r := quadraticRoots(0, 2, -1); len(r) != 1 || r[0] != 0.5 {
		t.Fatalf("linear case: got %v", r)
	}
	if r := quadraticRoots(1, -2, 1); len(r) != 1 || r[0] != 1 {
		t.Fatalf("double root: got %v", r)
	}
	r := quadraticRoots(1, -3, 2)
	if len(r) != 2 || r[0] != 2 || r[1] != 1 {
		t.Fatalf("two roots: got %v", r)
	}
}

func TestCircleBounds(t *testing.T) {
	minX, minY, maxX, maxY := Circle(100, 50, 20).Bounds()
	for _, c := range []struct{ got, want float64 }{
		{minX, 80}, {minY, 30}, {maxX, 120}, {maxY, 70},
	} {
		if math.Abs(c.got-c.want) > 0.05 {
			t.Fatalf("circle bounds: got %v, want %v", c.got, c.want)
		}
	}
	if ext := Circle(100, 50, 20).Extent(); ext != image.Rect(80, 30, 120, 70) {
		t.Fatalf("unexpected extent %v", ext)
	}
}

func TestRectBounds(t *testing.T) {
	// negative sizes extend up and left
	if ext := Rect(10, 10, -5, 20.5).Extent(); ext != image.Rect(5, 10, 10, 31) {
		t.Fatalf("unexpected extent %v", ext)
	}
	var empty Path
	if ext := empty.Extent(); !ext.Empty() {
		t.Fatalf("empty path should have an empty extent, got %v", ext)
	}
}
