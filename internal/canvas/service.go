// Package canvas orchestrates the canvas operations: it validates
// the requests, resolves images, appends the commands to the session
// logs and exports them.
package canvas

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/logger"
	"github.com/benoitkugler/okcanvas/internal/tracer"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/scenepdf"
	"github.com/benoitkugler/okcanvas/sceneraster"
	"github.com/benoitkugler/okcanvas/session"
)

// DefaultAuthor is written in the exported documents.
const DefaultAuthor = "Canvas Builder API"

// ExportConfig holds the PDF document settings.
type ExportConfig struct {
	Compress bool
	Author   string
}

// Service implements the canvas operations. It is safe for concurrent use.
type Service struct {
	store  session.Store
	images *imageref.Resolver
	export ExportConfig
	logger *slog.Logger
}

// NewService returns a service over the given sessions and image resolver.
// A nil logger discards the messages.
func NewService(store session.Store, images *imageref.Resolver, export ExportConfig, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	if export.Author == "" {
		export.Author = DefaultAuthor
	}
	return &Service{store: store, images: images, export: export, logger: log}
}

// Initialize creates a blank canvas session.
func (s *Service) Initialize(ctx context.Context, width, height int) (*session.Session, error) {
	_, span := tracer.StartSpan(ctx, "canvas.initialize",
		trace.WithAttributes(tracer.IntAttr("canvas.width", width), tracer.IntAttr("canvas.height", height)))
	sess, err := s.store.Create(width, height)
	tracer.End(span, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("canvas initialized", "session_id", sess.ID, "width", width, "height", height)
	return sess, nil
}

// DrawRectangle appends a rectangle and returns the new number of commands.
func (s *Service) DrawRectangle(ctx context.Context, id string, spec scene.RectangleSpec) (int, error) {
	return s.draw(ctx, id, scene.KindRectangle, func() (scene.Command, error) { return spec.Resolve() })
}

// DrawCircle appends a circle and returns the new number of commands.
func (s *Service) DrawCircle(ctx context.Context, id string, spec scene.CircleSpec) (int, error) {
	return s.draw(ctx, id, scene.KindCircle, func() (scene.Command, error) { return spec.Resolve() })
}

// DrawText appends a text and returns the new number of commands.
func (s *Service) DrawText(ctx context.Context, id string, spec scene.TextSpec) (int, error) {
	return s.draw(ctx, id, scene.KindText, func() (scene.Command, error) { return spec.Resolve() })
}

// draw looks up the session first, so that an unknown id wins
// over invalid arguments.
func (s *Service) draw(ctx context.Context, id string, kind scene.Kind, resolve func() (scene.Command, error)) (n int, err error) {
	ctx, span := tracer.StartSpan(ctx, "canvas.draw",
		trace.WithAttributes(tracer.SessionAttr(id), tracer.KindAttr(kind.String())))
	defer func() { tracer.End(span, err) }()

	sess, err := s.store.Get(id)
	if err != nil {
		return 0, err
	}
	cmd, err := resolve()
	if err != nil {
		return 0, err
	}
	return s.append(ctx, sess, cmd, s.images), nil
}

// DrawImage resolves the image source, then appends the image.
// Nothing is appended when the source is missing or can't be decoded.
func (s *Service) DrawImage(ctx context.Context, id string, in imageref.Input, spec scene.ImageSpec) (n int, err error) {
	ctx, span := tracer.StartSpan(ctx, "canvas.draw",
		trace.WithAttributes(tracer.SessionAttr(id), tracer.KindAttr(scene.KindImage.String())))
	defer func() { tracer.End(span, err) }()

	sess, err := s.store.Get(id)
	if err != nil {
		return 0, err
	}
	// network I/O happens before the scene is locked
	decoded, err := s.images.Resolve(ctx, in)
	if err != nil {
		s.logger.Warn("image rejected", "session_id", id, "error", err)
		return 0, err
	}
	cmd, err := spec.Resolve(decoded.Ref, decoded.Width, decoded.Height)
	if err != nil {
		return 0, err
	}
	return s.append(ctx, sess, cmd, s.images.WithDecoded(decoded)), nil
}

// append records cmd and brings the raster mirror up to date.
// A mirror failure is logged: the command stays in the log.
func (s *Service) append(ctx context.Context, sess *session.Session, cmd scene.Command, images scene.ImageLoader) int {
	n := sess.Scene.Append(cmd)
	s.logger.Debug("command recorded", "session_id", sess.ID, "kind", cmd.Kind().String(), "commands", n)
	if sess.Preview != nil {
		if _, err := sess.Preview.Sync(ctx, images); err != nil {
			s.logger.Warn("raster mirror update failed", "session_id", sess.ID, "error", err)
		}
	}
	return n
}

// Export writes the PDF of the session to w. Images which can't be
// loaded again are skipped and logged.
func (s *Service) Export(ctx context.Context, id string, w io.Writer) (rep scenepdf.Report, err error) {
	ctx, span := tracer.StartSpan(ctx, "canvas.export", trace.WithAttributes(tracer.SessionAttr(id)))
	defer func() { tracer.End(span, err) }()

	sess, err := s.store.Get(id)
	if err != nil {
		return scenepdf.Report{}, err
	}
	cmds := sess.Scene.Commands()
	rep, err = scenepdf.Export(ctx, w, sess.Scene.Width(), sess.Scene.Height(), cmds, s.images, scenepdf.Options{
		Title:        "Canvas Export " + sess.ID,
		Author:       s.export.Author,
		Compress:     s.export.Compress,
		CreationDate: sess.CreatedAt,
	})
	if err != nil {
		s.logger.Error("export failed", "session_id", id, "error", err)
		return scenepdf.Report{}, err
	}
	for _, skip := range rep.Skips {
		s.logger.Warn("export skipped command", "session_id", id, "index", skip.Index, "error", skip.Err)
	}
	span.SetAttributes(tracer.IntAttr("canvas.commands", len(cmds)), tracer.IntAttr("pdf.bytes", rep.Size))
	s.logger.Info("canvas exported", "session_id", id, "commands", len(cmds), "skipped", len(rep.Skips), "bytes", rep.Size)
	return rep, nil
}

// Records returns the command log of the session, in wire form.
func (s *Service) Records(ctx context.Context, id string) ([]scene.Record, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return scene.Records(sess.Scene.Commands()), nil
}

// Preview writes a PNG of the session. The raster mirror is used when
// enabled, otherwise the log is rasterized from scratch.
func (s *Service) Preview(ctx context.Context, id string, w io.Writer) (err error) {
	ctx, span := tracer.StartSpan(ctx, "canvas.preview", trace.WithAttributes(tracer.SessionAttr(id)))
	defer func() { tracer.End(span, err) }()

	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sess.Preview != nil {
		if _, err := sess.Preview.Sync(ctx, s.images); err != nil {
			return fmt.Errorf("raster mirror: %w", err)
		}
		return sess.Preview.WritePNG(w)
	}
	img, skips, err := sceneraster.Rasterize(ctx, sess.Scene.Width(), sess.Scene.Height(), sess.Scene.Commands(), s.images)
	if err != nil {
		return err
	}
	for _, skip := range skips {
		s.logger.Warn("preview skipped command", "session_id", id, "index", skip.Index, "error", skip.Err)
	}
	return png.Encode(w, img)
}

// Count returns the number of commands of the session.
func (s *Service) Count(ctx context.Context, id string) (int, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return 0, err
	}
	return sess.Scene.Len(), nil
}

// Sessions returns the number of live sessions.
func (s *Service) Sessions() int { return s.store.Len() }

// Delete removes the session.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.logger.Info("canvas deleted", "session_id", id)
	return nil
}

// Watch calls fn with the records of the session log: first the
// existing ones, then the new ones as they are appended. `from` is the
// index of the first record of the batch. Watch returns when ctx is
// done or fn fails.
func (s *Service) Watch(ctx context.Context, id string, fn func(from int, records []scene.Record) error) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	next := 0
	for {
		cmds, changed := sess.Scene.Since(next)
		if len(cmds) > 0 {
			if err := fn(next, scene.Records(cmds)); err != nil {
				return err
			}
			next += len(cmds)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
