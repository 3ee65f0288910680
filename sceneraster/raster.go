// Implements a raster backend to render scenes,
// by wrapping rasterx.
package sceneraster

import (
	"context"
	"image"
	"image/draw"
	"sync"

	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/scenepath"
)

var _ scene.Driver = (*Renderer)(nil) // assert interface conformance

// Renderer paints commands on a destination image.
// It is not safe for concurrent use.
type Renderer struct {
	dst    draw.Image
	filler *filler // reused for every shape

	faces  map[faceKey]font.Face
	damage image.Rectangle
}

type faceKey struct {
	generic scene.Generic
	size    float64
}

// NewRenderer returns a renderer painting on dst, with a ScannerGV.
func NewRenderer(dst draw.Image) *Renderer {
	b := dst.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), dst, b)
	return &Renderer{
		dst:    dst,
		filler: &filler{Filler: rasterx.NewFiller(b.Dx(), b.Dy(), scanner)},
		faces:  make(map[faceKey]font.Face),
	}
}

// NewCanvas returns a white canvas, the starting point of every scene.
func NewCanvas(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// Rasterize replays cmds on a new white canvas and returns it.
func Rasterize(ctx context.Context, width, height int, cmds []scene.Command, images scene.ImageLoader) (*image.RGBA, []scene.Skip, error) {
	img := NewCanvas(width, height)
	skips, err := scene.Draw(ctx, cmds, NewRenderer(img), images)
	return img, skips, err
}

// Damage returns the union of the regions painted since the last call
// to ResetDamage, clipped to the canvas.
func (rd *Renderer) Damage() image.Rectangle {
	return rd.damage.Intersect(rd.dst.Bounds())
}

func (rd *Renderer) ResetDamage() { rd.damage = image.Rectangle{} }

func (rd *Renderer) addDamage(r image.Rectangle) {
	rd.damage = rd.damage.Union(r)
}

func (rd *Renderer) SetupFiller() scene.Filler {
	rd.filler.onDraw = rd.addDamage
	return rd.filler
}

// filler also records the outline, to report the painted region.
type filler struct {
	*rasterx.Filler
	outline scenepath.Path
	onDraw  func(image.Rectangle)
}

func (f *filler) Clear() {
	f.Filler.Clear()
	f.outline.Clear()
}

func (f *filler) Start(a fixed.Point26_6) {
	f.Filler.Start(a)
	f.outline.Start(a)
}

func (f *filler) Line(b fixed.Point26_6) {
	f.Filler.Line(b)
	f.outline.Line(b)
}

func (f *filler) CubeBezier(b, c, d fixed.Point26_6) {
	f.Filler.CubeBezier(b, c, d)
	f.outline.CubeBezier(b, c, d)
}

func (f *filler) Stop(closeLoop bool) {
	f.Filler.Stop(closeLoop)
	f.outline.Stop(closeLoop)
}

func (f *filler) SetColor(c scene.Color) {
	f.Filler.SetColor(c.NRGBA())
}

func (f *filler) Draw() {
	f.Filler.Draw()
	if f.onDraw != nil {
		f.onDraw(f.outline.Extent())
	}
}

var (
	parseFonts sync.Once
	goRegular  *opentype.Font
	goMono     *opentype.Font
	fontsErr   error
)

func loadFonts() error {
	parseFonts.Do(func() {
		goRegular, fontsErr = opentype.Parse(goregular.TTF)
		if fontsErr != nil {
			return
		}
		goMono, fontsErr = opentype.Parse(gomono.TTF)
	})
	return fontsErr
}

// face returns the font face for the generic family, at size
// pixels (one pixel per point).
func (rd *Renderer) face(generic scene.Generic, size float64) (font.Face, error) {
	key := faceKey{generic, size}
	if f, ok := rd.faces[key]; ok {
		return f, nil
	}
	if err := loadFonts(); err != nil {
		return nil, err
	}
	src := goRegular
	if generic == scene.Monospace {
		src = goMono
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, err
	}
	rd.faces[key] = f
	return f, nil
}

// DrawText paints the text with its baseline at (t.X, t.Y), as
// the HTML canvas fillText does.
// Text outside the destination is not drawn, and neither is text
// larger than scene.MaxFontSize, which only decoded records may carry.
func (rd *Renderer) DrawText(t scene.Text, face scene.Face) {
	if t.FontSize <= 0 || t.FontSize > scene.MaxFontSize {
		return
	}
	f, err := rd.face(face.Generic, t.FontSize)
	if err != nil {
		return // embedded fonts always parse
	}
	d := font.Drawer{
		Dst:  rd.dst,
		Src:  image.NewUniform(t.Color.NRGBA()),
		Face: f,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(t.X * 64), Y: fixed.Int26_6(t.Y * 64)},
	}
	bounds, _ := d.BoundString(t.Content)
	box := image.Rect(bounds.Min.X.Floor(), bounds.Min.Y.Floor(), bounds.Max.X.Ceil(), bounds.Max.Y.Ceil())
	if !box.Overlaps(rd.dst.Bounds()) {
		return
	}
	d.DrawString(t.Content)
	rd.addDamage(box)
}

// DrawImage scales img to the box of cmd, with a Catmull-Rom filter.
func (rd *Renderer) DrawImage(img image.Image, cmd scene.Image) error {
	box := image.Rect(cmd.X, cmd.Y, cmd.X+cmd.Width, cmd.Y+cmd.Height)
	xdraw.CatmullRom.Scale(rd.dst, box, img, img.Bounds(), xdraw.Over, nil)
	rd.addDamage(box)
	return nil
}
