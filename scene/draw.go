package scene

import (
	"context"
	"fmt"
	"image"

	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scenepath"
)

// Given a command log, implements how to
// paint it on a canvas.
// This requires a driver implementing the actual draw operations,
// such as a rasterizer to output .png images or a pdf writer.

// Filler knows how to fill an outline, but
// doesn't need any knowledge of the commands.
type Filler interface {
	scenepath.Adder

	// Clear must reset the internal state (used before starting a new path painting)
	Clear()

	// SetColor set the color for the current path
	SetColor(c Color)

	// Draw fills the accumulated path using the current color
	Draw()
}

// Driver is a painting backend.
type Driver interface {
	// SetupFiller returns the backend painter, and
	// will be called at the begining of every shape.
	SetupFiller() Filler

	// DrawText paints one line of text, with its baseline at (t.X, t.Y).
	DrawText(t Text, face Face)

	// DrawImage paints img scaled to the box of cmd.
	DrawImage(img image.Image, cmd Image) error
}

// ImageLoader derives the pixels of an image reference again.
type ImageLoader interface {
	LoadImage(ctx context.Context, ref SourceRef) (image.Image, error)
}

// ImageLoaderFunc adapts a function to ImageLoader.
type ImageLoaderFunc func(ctx context.Context, ref SourceRef) (image.Image, error)

func (f ImageLoaderFunc) LoadImage(ctx context.Context, ref SourceRef) (image.Image, error) {
	return f(ctx, ref)
}

// Skip reports a command which could not be painted.
type Skip struct {
	Index   int // position in the replayed slice
	Command Command
	Err     error // wraps domain.ErrExportImageFetch
}

func (s Skip) Error() string {
	return fmt.Sprintf("command %d (%s) skipped: %s", s.Index, s.Command.Kind(), s.Err)
}

// Draw replays the commands, in order, into the driver `d`.
// Images which can't be loaded (or painted) are skipped: the replay
// goes on and the skips are returned. The only fatal error is
// the cancellation of ctx.
func Draw(ctx context.Context, cmds []Command, d Driver, images ImageLoader) ([]Skip, error) {
	var skips []Skip
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return skips, err
		}
		switch cmd := cmd.(type) {
		case Rectangle:
			fillPath(d, cmd.Outline(), cmd.Color)
		case Circle:
			fillPath(d, cmd.Outline(), cmd.Color)
		case Text:
			d.DrawText(cmd, ResolveFace(cmd.FontFamily))
		case Image:
			if err := drawImage(ctx, d, images, cmd); err != nil {
				skips = append(skips, Skip{Index: i, Command: cmd, Err: err})
			}
		}
	}
	return skips, nil
}

func fillPath(d Driver, path scenepath.Path, c Color) {
	filler := d.SetupFiller()
	filler.Clear()
	filler.SetColor(c) // PDF forbids color changes inside a path
	path.AddTo(filler)
	filler.Stop(false)
	filler.Draw()
}

func drawImage(ctx context.Context, d Driver, images ImageLoader, cmd Image) error {
	if cmd.Width == 0 || cmd.Height == 0 {
		return nil // nothing visible
	}
	if images == nil {
		return domain.NewError("scene.Draw", domain.ErrExportImageFetch, "no image loader")
	}
	img, err := images.LoadImage(ctx, cmd.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExportImageFetch, err)
	}
	if err := d.DrawImage(img, cmd); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExportImageFetch, err)
	}
	return nil
}
