package sceneraster

import (
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"

	"github.com/benoitkugler/okcanvas/scene"
)

// Mirror keeps a raster copy of a scene up to date, by applying
// the commands appended since its last update.
// It is safe for concurrent use.
type Mirror struct {
	scene  *scene.Scene
	logger *slog.Logger

	mu       sync.Mutex
	canvas   *image.RGBA
	renderer *Renderer
	applied  int // number of commands already painted
}

// Update describes one catch up of a Mirror.
type Update struct {
	Applied int             // commands painted so far
	Damage  image.Rectangle // region repainted by this update
	Skips   []scene.Skip
}

// NewMirror returns a mirror of s, starting from a white canvas.
// A nil logger discards the messages.
func NewMirror(s *scene.Scene, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	canvas := NewCanvas(s.Width(), s.Height())
	return &Mirror{
		scene:    s,
		logger:   logger,
		canvas:   canvas,
		renderer: NewRenderer(canvas),
	}
}

// Sync paints the commands not yet applied, in log order.
// Images are loaded with `images`; the one which fail are
// skipped and logged.
func (m *Mirror) Sync(ctx context.Context, images scene.ImageLoader) (Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, _ := m.scene.Since(m.applied)
	m.renderer.ResetDamage()
	skips, err := scene.Draw(ctx, pending, m.renderer, images)
	if err != nil {
		// the canvas may hold part of the pending commands: start over next time
		m.reset()
		return Update{Applied: m.applied}, err
	}
	for _, skip := range skips {
		m.logger.Warn("raster mirror skipped command",
			slog.Int("index", m.applied+skip.Index),
			slog.String("kind", skip.Command.Kind().String()),
			slog.String("error", skip.Err.Error()))
	}
	m.applied += len(pending)
	return Update{Applied: m.applied, Damage: m.renderer.Damage(), Skips: skips}, nil
}

func (m *Mirror) reset() {
	m.canvas = NewCanvas(m.scene.Width(), m.scene.Height())
	m.renderer = NewRenderer(m.canvas)
	m.applied = 0
}

// Applied returns the number of commands painted on the canvas.
func (m *Mirror) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// Snapshot returns a copy of the current canvas.
func (m *Mirror) Snapshot() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := image.NewRGBA(m.canvas.Rect)
	copy(out.Pix, m.canvas.Pix)
	return out
}

// WritePNG encodes the current canvas as PNG.
func (m *Mirror) WritePNG(w io.Writer) error {
	return png.Encode(w, m.Snapshot())
}
