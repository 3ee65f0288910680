// Implements a PDF backend to render scenes,
// by wrapping github.com/jung-kurt/gofpdf.
package scenepdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"time"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/math/fixed"

	"github.com/benoitkugler/okcanvas/scene"
)

// assert interface conformance
var (
	_ scene.Driver = (*Renderer)(nil)
	_ scene.Filler = filler{}
)

// Renderer paints commands on the current page of a PDF document.
// Coordinates are used as is: one canvas pixel is one PDF unit.
type Renderer struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string // UTF-8 to the encoding of the core fonts

	alpha      float64 // current opacity, to avoid useless graphic states
	images     int     // number of registered images
	primitives int     // number of painted primitives
}

// implements the path commands
type pather struct {
	pdf *gofpdf.Fpdf
}

// implements the filling operation
type filler struct {
	pather
	rd *Renderer
}

// NewRenderer return a renderer which will
// write to the given `pdf`.
func NewRenderer(pdf *gofpdf.Fpdf) *Renderer {
	return &Renderer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), alpha: 1}
}

// Primitives returns the number of shapes, texts and images painted so far.
func (rd *Renderer) Primitives() int { return rd.primitives }

func fixedTof(a fixed.Point26_6) (float64, float64) {
	return float64(a.X) / 64, float64(a.Y) / 64
}

func (p pather) Clear() {}

func (p pather) Start(a fixed.Point26_6) {
	p.pdf.MoveTo(fixedTof(a))
}

func (p pather) Line(b fixed.Point26_6) {
	p.pdf.LineTo(fixedTof(b))
}

func (p pather) CubeBezier(b fixed.Point26_6, c fixed.Point26_6, d fixed.Point26_6) {
	cx0, cy0 := fixedTof(b)
	cx1, cy1 := fixedTof(c)
	x, y := fixedTof(d)
	p.pdf.CurveBezierCubicTo(cx0, cy0, cx1, cy1, x, y)
}

func (p pather) Stop(closeLoop bool) {
	if closeLoop {
		p.pdf.ClosePath()
	}
}

func (f filler) SetColor(c scene.Color) {
	f.pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
	f.rd.setAlpha(c.Opacity())
}

func (f filler) Draw() {
	f.pdf.DrawPath("F") // non zero winding
	f.rd.primitives++
}

func (rd *Renderer) SetupFiller() scene.Filler {
	return filler{pather: pather{pdf: rd.pdf}, rd: rd}
}

func (rd *Renderer) setAlpha(alpha float64) {
	if alpha == rd.alpha {
		return
	}
	rd.pdf.SetAlpha(alpha, "Normal")
	rd.alpha = alpha
}

// DrawText writes the text with a standard font, its baseline
// at (t.X, t.Y).
func (rd *Renderer) DrawText(t scene.Text, face scene.Face) {
	rd.pdf.SetFont(face.Document, "", t.FontSize)
	rd.pdf.SetTextColor(int(t.Color.R), int(t.Color.G), int(t.Color.B))
	rd.setAlpha(t.Color.Opacity())
	rd.pdf.Text(t.X, t.Y, rd.tr(t.Content))
	rd.primitives++
}

// DrawImage embeds img, scaled to the box of cmd.
// Images are always stored as 8-bit PNG, whatever their
// original format.
func (rd *Renderer) DrawImage(img image.Image, cmd scene.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, toNRGBA(img)); err != nil {
		return err
	}
	rd.images++
	name := fmt.Sprintf("img%d", rd.images)
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	rd.pdf.RegisterImageOptionsReader(name, opts, &buf)
	if err := rd.pdf.Error(); err != nil {
		return err
	}
	rd.setAlpha(1)
	rd.pdf.ImageOptions(name, float64(cmd.X), float64(cmd.Y), float64(cmd.Width), float64(cmd.Height), false, opts, 0, "")
	rd.primitives++
	return nil
}

// toNRGBA converts to 8-bit non premultiplied colors,
// the only layout accepted by the PDF writer.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Options customizes the exported document.
type Options struct {
	Title, Author string
	Compress      bool
	// CreationDate is written in the document information.
	// Two exports with the same date and commands are byte identical.
	// The zero value means now.
	CreationDate time.Time
}

// Report describes one export.
type Report struct {
	Primitives int          // painted commands
	Skips      []scene.Skip // commands left out
	Size       int          // bytes written
}

// Export writes a one page PDF of the given size, painting cmds in order.
// Nothing is written to `w` if the document can't be completed.
func Export(ctx context.Context, w io.Writer, width, height int, cmds []scene.Command, images scene.ImageLoader, opts Options) (Report, error) {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCompression(opts.Compress)
	pdf.SetCatalogSort(true)
	if !opts.CreationDate.IsZero() {
		pdf.SetCreationDate(opts.CreationDate)
	}
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, !isASCII(opts.Title))
	}
	if opts.Author != "" {
		pdf.SetAuthor(opts.Author, !isASCII(opts.Author))
	}
	pdf.AddPage()

	rd := NewRenderer(pdf)
	skips, err := scene.Draw(ctx, cmds, rd, images)
	if err != nil {
		return Report{}, err
	}
	if err := pdf.Error(); err != nil {
		return Report{}, fmt.Errorf("building PDF: %w", err)
	}

	// gofpdf keeps the whole document in memory until Output
	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return Report{}, fmt.Errorf("writing PDF: %w", err)
	}
	n, err := w.Write(out.Bytes())
	return Report{Primitives: rd.primitives, Skips: skips, Size: n}, err
}

// isASCII reports whether s can be written without UTF-16 encoding.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
