package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/canvas"
	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/internal/middleware"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/session"
)

type testEnv struct {
	srv *httptest.Server
	svc *canvas.Service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store := session.NewMemoryStore(session.Config{RasterMirror: true}, nil)
	images := imageref.New(imageref.Config{AllowPrivateNetworks: true, FetchTimeout: 2 * time.Second}, nil)
	svc := canvas.NewService(store, images, canvas.ExportConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(New(svc, cfg, nil).Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testEnv{srv: srv, svc: svc}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) initialize(t *testing.T, width, height int) string {
	t.Helper()
	resp := e.post(t, "/api/initialize", map[string]int{"width": width, "height": height})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out InitializeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ID
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func debugRecords(t *testing.T, e *testEnv, id string) []map[string]any {
	t.Helper()
	resp := e.get(t, "/api/debug/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInitialize(t *testing.T) {
	e := newTestEnv(t, Config{})

	resp := e.post(t, "/api/initialize", map[string]any{"width": "800", "height": 600})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out InitializeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "Canvas initialized successfully", out.Message)
	assert.Equal(t, dimensions{800, 600}, out.Dimensions)

	for _, body := range []any{
		map[string]any{"width": 800},
		map[string]any{"width": 0, "height": 10},
		map[string]any{"width": -3, "height": 10},
	} {
		resp := e.post(t, "/api/initialize", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, domain.CodeInvalidDimensions, decodeError(t, resp).Code)
	}

	resp = e.post(t, "/api/initialize", map[string]any{"width": "wide", "height": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidArgument, decodeError(t, resp).Code)
}

func TestRedRectangleExport(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 800, 600)

	resp := e.post(t, "/api/draw/rectangle", map[string]any{"id": id, "x": 10, "y": 10, "width": 50, "height": 50, "color": "#FF0000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var drawn DrawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&drawn))
	assert.Equal(t, DrawResponse{OK: true, Message: "Rectangle drawn successfully", Commands: 1}, drawn)

	records := debugRecords(t, e, id)
	require.Len(t, records, 1)
	assert.Equal(t, "rectangle", records[0]["type"])
	assert.Equal(t, map[string]any{"x": 10.0, "y": 10.0, "width": 50.0, "height": 50.0, "color": "#ff0000"}, records[0]["params"])

	resp = e.get(t, "/api/export/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="canvas-`+id+`.pdf"`, resp.Header.Get("Content-Disposition"))
	doc, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
}

func TestUnknownSession(t *testing.T) {
	e := newTestEnv(t, Config{})
	for _, path := range []string{"/api/draw/rectangle", "/api/draw/circle", "/api/draw/text", "/api/draw/image"} {
		resp := e.post(t, path, map[string]any{"id": "nope", "imageUrl": "http://example.com/a.png"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, domain.CodeSessionNotFound, decodeError(t, resp).Code, path)
	}
	for _, path := range []string{"/api/export/nope", "/api/debug/nope", "/api/preview/nope", "/api/watch/nope"} {
		resp := e.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	assert.Equal(t, 0, e.svc.Sessions(), "lookups never create sessions")
}

func TestDrawShapes(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 200, 100)

	resp := e.post(t, "/api/draw/circle", map[string]any{"id": id, "x": "50", "y": "50", "radius": 20})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.post(t, "/api/draw/text", map[string]any{"id": id, "text": "Hello", "x": 10, "y": 80, "color": "navy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, "/api/draw/circle", map[string]any{"id": id, "x": 1, "y": 1, "radius": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = e.post(t, "/api/draw/text", map[string]any{"id": id, "x": 1, "y": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	records := debugRecords(t, e, id)
	require.Len(t, records, 2)
	assert.Equal(t, "#000000", records[0]["params"].(map[string]any)["color"])
	text := records[1]["params"].(map[string]any)
	assert.Equal(t, 20.0, text["fontSize"])
	assert.Equal(t, "Arial", text["fontFamily"])
	assert.Equal(t, "#000080", text["color"])
}

func multipartImage(t *testing.T, fields map[string]string, file []byte) (string, *bytes.Buffer) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("imageFile", "cat.png")
		require.NoError(t, err)
		part.Write(file)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &body
}

func TestDrawImageMultipart(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 100, 100)
	data := pngBytes(t, 30, 20)

	contentType, body := multipartImage(t, map[string]string{"id": id, "x": "5", "y": "6", "width": "60"}, data)
	resp, err := http.Post(e.srv.URL+"/api/draw/image", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := debugRecords(t, e, id)
	require.Len(t, records, 1)
	params := records[0]["params"].(map[string]any)
	assert.Equal(t, "image", records[0]["type"])
	assert.True(t, strings.HasPrefix(params["src"].(string), "data:image/png;base64,"))
	assert.Equal(t, 5.0, params["x"])
	assert.Equal(t, 60.0, params["width"])
	assert.Equal(t, 20.0, params["height"], "missing height uses the intrinsic one")

	// missing source: 400 and nothing recorded
	contentType, body = multipartImage(t, map[string]string{"id": id}, nil)
	resp2, err := http.Post(e.srv.URL+"/api/draw/image", contentType, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, domain.CodeMissingImageSource, decodeError(t, resp2).Code)
	assert.Len(t, debugRecords(t, e, id), 1)
}

func TestDrawImageJSON(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes(t, 8, 8))
	}))
	defer remote.Close()

	e := newTestEnv(t, Config{})
	id := e.initialize(t, 100, 100)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 4, 4))
	resp := e.post(t, "/api/draw/image", map[string]any{"id": id, "imageFile": dataURL, "x": 1, "y": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.post(t, "/api/draw/image", map[string]any{"id": id, "imageUrl": remote.URL + "/cat.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, "/api/draw/image", map[string]any{"id": id, "imageFile": dataURL, "imageUrl": remote.URL})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = e.post(t, "/api/draw/image", map[string]any{"id": id, "imageFile": "data:image/png;base64,bm90IGFuIGltYWdl"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, domain.CodeDecode, decodeError(t, resp).Code)

	records := debugRecords(t, e, id)
	require.Len(t, records, 2)
	assert.Equal(t, dataURL, records[0]["params"].(map[string]any)["src"])
	second := records[1]["params"].(map[string]any)
	assert.Equal(t, remote.URL+"/cat.png", second["src"])
	assert.Equal(t, 8.0, second["width"])
}

func TestDrawImageUnknownSessionFirst(t *testing.T) {
	e := newTestEnv(t, Config{})

	for _, body := range []map[string]any{
		{"id": "nope", "imageFile": "data:image/png;base64,!!!"},
		{"id": "nope", "imageFile": "http://x/y.png"},
		{"id": "nope", "imageFile": "data:image/png;base64,bm90IGFuIGltYWdl", "imageUrl": "http://x/y.png"},
		{"id": "nope", "imageUrl": "http://x/y.png", "x": "abc"},
	} {
		resp := e.post(t, "/api/draw/image", body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "body %v", body)
		assert.Equal(t, domain.CodeSessionNotFound, decodeError(t, resp).Code)
	}

	contentType, body := multipartImage(t, map[string]string{"id": "nope", "x": "abc"}, pngBytes(t, 2, 2))
	resp, err := http.Post(e.srv.URL+"/api/draw/image", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// the same malformed fields on a live session are argument errors
	id := e.initialize(t, 10, 10)
	resp2 := e.post(t, "/api/draw/image", map[string]any{"id": id, "imageFile": "http://x/y.png"})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, domain.CodeInvalidArgument, decodeError(t, resp2).Code)

	contentType, body = multipartImage(t, map[string]string{"id": id, "x": "abc"}, pngBytes(t, 2, 2))
	resp3, err := http.Post(e.srv.URL+"/api/draw/image", contentType, body)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
	assert.Empty(t, debugRecords(t, e, id))
}

func TestOversizedText(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 100, 100)

	resp := e.post(t, "/api/draw/text", map[string]any{"id": id, "text": "W", "x": 10, "y": 90, "fontSize": 200000})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidArgument, decodeError(t, resp).Code)
	assert.Empty(t, debugRecords(t, e, id))

	resp = e.post(t, "/api/draw/text", map[string]any{"id": id, "text": "W", "x": 0, "y": 90, "fontSize": scene.MaxFontSize})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.get(t, "/api/preview/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPayloadTooLarge(t *testing.T) {
	e := newTestEnv(t, Config{MaxUploadBytes: 512})
	id := e.initialize(t, 10, 10)

	contentType, body := multipartImage(t, map[string]string{"id": id}, make([]byte, 4096))
	resp, err := http.Post(e.srv.URL+"/api/draw/image", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, domain.CodePayloadTooLarge, decodeError(t, resp).Code)
}

func TestPreviewAndDelete(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 40, 30)
	e.post(t, "/api/draw/rectangle", map[string]any{"id": id, "width": 40, "height": 30, "color": "lime"})

	resp := e.get(t, "/api/preview/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
	assert.Equal(t, color.RGBA{0, 0xff, 0, 0xff}, color.RGBAModel.Convert(img.At(20, 15)))

	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/api/session/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Equal(t, http.StatusNotFound, e.get(t, "/api/debug/"+id).StatusCode)
}

func TestWatch(t *testing.T) {
	e := newTestEnv(t, Config{})
	id := e.initialize(t, 10, 10)
	e.post(t, "/api/draw/rectangle", map[string]any{"id": id, "width": 1, "height": 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/api/watch/"+id, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg WatchMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, 0, msg.From)
	require.Len(t, msg.Records, 1)
	assert.Equal(t, scene.KindRectangle, msg.Records[0].Command.Kind())

	e.post(t, "/api/draw/circle", map[string]any{"id": id, "x": 5, "y": 5, "radius": 2, "color": "red"})
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, 1, msg.From)
	require.Len(t, msg.Records, 1)
	assert.Equal(t, scene.Circle{X: 5, Y: 5, Radius: 2, Color: scene.Color{R: 0xff, A: 0xff}}, msg.Records[0].Command)
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.initialize(t, 1, 1)

	resp := e.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["sessions"])

	assert.Equal(t, http.StatusNotFound, e.get(t, "/api/nothing").StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestStaticSPA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	e := newTestEnv(t, Config{StaticDir: dir})

	read := func(path string) string {
		resp := e.get(t, path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "console.log(1)", read("/app.js"))
	assert.Equal(t, "<html>app</html>", read("/"))
	assert.Equal(t, "<html>app</html>", read("/canvas/editor"))

	resp := e.get(t, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "API routes never fall back to the client")
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, Config{RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}})
	assert.Equal(t, http.StatusOK, e.get(t, "/healthz").StatusCode)
	resp := e.get(t, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, domain.ErrorCode("RATE_LIMITED"), decodeError(t, resp).Code)
}

func TestStartStop(t *testing.T) {
	store := session.NewMemoryStore(session.Config{}, nil)
	svc := canvas.NewService(store, imageref.New(imageref.Config{}, nil), canvas.ExportConfig{}, nil)
	s := New(svc, Config{Addr: "127.0.0.1:0", MaxConnections: 4}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNumber(t *testing.T) {
	var req imageRequest
	require.NoError(t, json.Unmarshal([]byte(`{"x": "12.5", "y": 3, "width": "", "height": null}`), &req))
	assert.Equal(t, number(12.5), req.X)
	assert.Equal(t, number(3), req.Y)
	assert.Equal(t, number(0), req.Width)
	assert.Equal(t, number(0), req.Height)
	assert.Equal(t, 12, req.X.toInt())

	assert.Error(t, json.Unmarshal([]byte(`{"x": "abc"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"x": true}`), &req))
}
