package canvas

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/session"
)

func newTestService(t *testing.T, mirror bool) *Service {
	t.Helper()
	store := session.NewMemoryStore(session.Config{RasterMirror: mirror}, nil)
	images := imageref.New(imageref.Config{AllowPrivateNetworks: true, FetchTimeout: 2 * time.Second}, nil)
	return NewService(store, images, ExportConfig{}, nil)
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestInitialize(t *testing.T) {
	svc := newTestService(t, false)
	sess, err := svc.Initialize(context.Background(), 800, 600)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 800, sess.Scene.Width())
	assert.Equal(t, 0, sess.Scene.Len())

	for _, dims := range [][2]int{{0, 600}, {800, -1}} {
		_, err := svc.Initialize(context.Background(), dims[0], dims[1])
		assert.ErrorIs(t, err, domain.ErrInvalidDimensions)
	}
}

func TestUnknownSession(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	// the lookup comes before the validation of the arguments
	_, err := svc.DrawRectangle(ctx, "nope", scene.RectangleSpec{Color: "not a color"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.DrawCircle(ctx, "nope", scene.CircleSpec{Radius: -1})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.DrawText(ctx, "nope", scene.TextSpec{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.DrawImage(ctx, "nope", imageref.Input{}, scene.ImageSpec{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.Export(ctx, "nope", &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = svc.Records(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.Preview(ctx, "nope", &bytes.Buffer{}), domain.ErrSessionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "nope"), domain.ErrSessionNotFound)
}

func TestDrawDefaultsAndCount(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 200, 200)
	require.NoError(t, err)

	n, err := svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{X: 1, Y: 2, Width: 3, Height: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.DrawText(ctx, sess.ID, scene.TextSpec{Text: "hello", X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := svc.Records(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, scene.Black, records[0].Command.(scene.Rectangle).Color)
	text := records[1].Command.(scene.Text)
	assert.Equal(t, 20.0, text.FontSize)
	assert.Equal(t, "Arial", text.FontFamily)
}

func TestInvalidArgumentsLeaveLogUnchanged(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 100, 100)
	require.NoError(t, err)

	_, err = svc.DrawCircle(ctx, sess.ID, scene.CircleSpec{Radius: -5})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{Color: "#12"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.DrawText(ctx, sess.ID, scene.TextSpec{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.DrawImage(ctx, sess.ID, imageref.Input{}, scene.ImageSpec{})
	assert.ErrorIs(t, err, domain.ErrMissingImageSource)
	_, err = svc.DrawImage(ctx, sess.ID, imageref.Input{Data: []byte("garbage")}, scene.ImageSpec{})
	assert.ErrorIs(t, err, domain.ErrDecode)

	assert.Equal(t, 0, sess.Scene.Len())
}

func TestDrawImageIntrinsicSize(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 100, 100)
	require.NoError(t, err)

	data := pngBytes(t, 16, 8, color.White)
	_, err = svc.DrawImage(ctx, sess.ID, imageref.Input{Data: data}, scene.ImageSpec{X: 3.7, Y: 4})
	require.NoError(t, err)
	_, err = svc.DrawImage(ctx, sess.ID, imageref.Input{Data: data}, scene.ImageSpec{Width: 40})
	require.NoError(t, err)

	records, err := svc.Records(ctx, sess.ID)
	require.NoError(t, err)
	first := records[0].Command.(scene.Image)
	assert.Equal(t, scene.Image{Source: first.Source, X: 3, Y: 4, Width: 16, Height: 8}, first)
	assert.Equal(t, scene.SourceInline, first.Source.Kind)
	second := records[1].Command.(scene.Image)
	assert.Equal(t, 40, second.Width)
	assert.Equal(t, 8, second.Height)
}

func TestExportRedRectangle(t *testing.T) {
	store := session.NewMemoryStore(session.Config{}, nil)
	svc := NewService(store, imageref.New(imageref.Config{}, nil), ExportConfig{Compress: false}, nil)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 800, 600)
	require.NoError(t, err)
	_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{X: 10, Y: 10, Width: 50, Height: 50, Color: "red"})
	require.NoError(t, err)

	var first, second bytes.Buffer
	rep, err := svc.Export(ctx, sess.ID, &first)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Primitives)
	doc := first.String()
	assert.True(t, strings.HasPrefix(doc, "%PDF-"))
	assert.Contains(t, doc, "/MediaBox [0 0 800.00 600.00]")
	assert.Contains(t, doc, "1.000 0.000 0.000 rg")
	assert.Contains(t, doc, "Canvas Export "+sess.ID)
	assert.Contains(t, doc, DefaultAuthor)

	_, err = svc.Export(ctx, sess.ID, &second)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes(), second.Bytes(), "exports of an unchanged scene should be identical")
}

func TestRemoteImageDeadAtExport(t *testing.T) {
	data := pngBytes(t, 10, 10, color.RGBA{0, 0, 0xff, 0xff})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))

	svc := newTestService(t, true)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 50, 50)
	require.NoError(t, err)
	_, err = svc.DrawImage(ctx, sess.ID, imageref.Input{URL: srv.URL + "/blue.png"}, scene.ImageSpec{})
	require.NoError(t, err)
	_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{X: 20, Y: 20, Width: 10, Height: 10, Color: "#0f0"})
	require.NoError(t, err)

	// the mirror painted the image while the host was alive
	var preview bytes.Buffer
	require.NoError(t, svc.Preview(ctx, sess.ID, &preview))
	img := decodePNG(t, preview.Bytes())
	px := rgbaAt(img, 5, 5)
	assert.InDelta(t, 0, int(px.R), 2)
	assert.InDelta(t, 0xff, int(px.B), 2)

	srv.Close()
	var buf bytes.Buffer
	rep, err := svc.Export(ctx, sess.ID, &buf)
	require.NoError(t, err)
	require.Len(t, rep.Skips, 1)
	assert.Equal(t, 0, rep.Skips[0].Index)
	assert.ErrorIs(t, rep.Skips[0].Err, domain.ErrExportImageFetch)
	assert.Equal(t, 1, rep.Primitives)
	assert.NotZero(t, buf.Len())
}

func TestPreviewWithoutMirror(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 100, 100)
	require.NoError(t, err)
	_, err = svc.DrawCircle(ctx, sess.ID, scene.CircleSpec{X: 50, Y: 50, Radius: 20, Color: "rgb(255, 0, 0)"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Preview(ctx, sess.ID, &buf))
	img := decodePNG(t, buf.Bytes())
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	assert.Equal(t, color.RGBA{0xff, 0, 0, 0xff}, rgbaAt(img, 50, 50))
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, rgbaAt(img, 2, 2))
}

func TestPreviewMatchesFullReplay(t *testing.T) {
	mirrored, plain := newTestService(t, true), newTestService(t, false)
	ctx := context.Background()
	var previews [2][]byte
	for i, svc := range []*Service{mirrored, plain} {
		sess, err := svc.Initialize(ctx, 64, 64)
		require.NoError(t, err)
		_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{Width: 40, Height: 40, Color: "navy"})
		require.NoError(t, err)
		_, err = svc.DrawCircle(ctx, sess.ID, scene.CircleSpec{X: 40, Y: 40, Radius: 15, Color: "#ff000080"})
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, svc.Preview(ctx, sess.ID, &buf))
		previews[i] = buf.Bytes()
	}
	assert.Equal(t, previews[0], previews[1])
}

func TestDelete(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	sess, err := svc.Initialize(ctx, 10, 10)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, sess.ID))
	_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestWatch(t *testing.T) {
	svc := newTestService(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := svc.Initialize(ctx, 10, 10)
	require.NoError(t, err)
	_, err = svc.DrawRectangle(ctx, sess.ID, scene.RectangleSpec{Width: 1, Height: 1})
	require.NoError(t, err)

	type batch struct {
		from  int
		kinds []scene.Kind
	}
	batches := make(chan batch, 10)
	done := make(chan error, 1)
	watchCtx, stop := context.WithCancel(ctx)
	go func() {
		done <- svc.Watch(watchCtx, sess.ID, func(from int, records []scene.Record) error {
			b := batch{from: from}
			for _, r := range records {
				b.kinds = append(b.kinds, r.Command.Kind())
			}
			batches <- b
			return nil
		})
	}()

	backlog := <-batches
	assert.Equal(t, batch{0, []scene.Kind{scene.KindRectangle}}, backlog)

	_, err = svc.DrawCircle(ctx, sess.ID, scene.CircleSpec{Radius: 1})
	require.NoError(t, err)
	live := <-batches
	assert.Equal(t, 1, live.from)
	assert.Equal(t, []scene.Kind{scene.KindCircle}, live.kinds)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.ErrorIs(t, svc.Watch(ctx, "nope", nil), domain.ErrSessionNotFound)
}

func TestCountAndSessions(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()
	a, err := svc.Initialize(ctx, 10, 10)
	require.NoError(t, err)
	_, err = svc.Initialize(ctx, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Sessions())

	_, err = svc.DrawCircle(ctx, a.ID, scene.CircleSpec{Radius: 2})
	require.NoError(t, err)
	n, err := svc.Count(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = svc.Count(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
