package client

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/sceneraster"
)

// Canvas is a server session, mirrored locally.
type Canvas struct {
	ID string

	client  *Client
	scene   *scene.Scene
	preview *sceneraster.Mirror
}

type drawResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Commands int    `json:"commands"`
}

// Initialize creates a session on the server.
func (c *Client) Initialize(ctx context.Context, width, height int) (*Canvas, error) {
	var out struct {
		ID         string `json:"id"`
		Dimensions struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"dimensions"`
	}
	err := c.postJSON(ctx, "/api/initialize", map[string]int{"width": width, "height": height}, &out)
	if err != nil {
		return nil, err
	}
	return c.attach(out.ID, out.Dimensions.Width, out.Dimensions.Height)
}

// Open attaches to an existing session: its log is downloaded and
// painted on a fresh local mirror.
func (c *Client) Open(ctx context.Context, id string, width, height int) (*Canvas, error) {
	cv, err := c.attach(id, width, height)
	if err != nil {
		return nil, err
	}
	records, err := cv.Records(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		cv.scene.Append(r.Command)
	}
	if _, err := cv.preview.Sync(ctx, c.images); err != nil {
		return nil, err
	}
	return cv, nil
}

func (c *Client) attach(id string, width, height int) (*Canvas, error) {
	sc, err := scene.New(width, height)
	if err != nil {
		return nil, err
	}
	return &Canvas{ID: id, client: c, scene: sc, preview: sceneraster.NewMirror(sc, c.logger)}, nil
}

// commit paints an accepted command locally.
func (cv *Canvas) commit(ctx context.Context, cmd scene.Command, images scene.ImageLoader) {
	cv.scene.Append(cmd)
	if _, err := cv.preview.Sync(ctx, images); err != nil {
		cv.client.logger.Warn("local preview update failed", "session_id", cv.ID, "error", err)
	}
}

// Rectangle draws a rectangle. Invalid arguments are rejected locally.
func (cv *Canvas) Rectangle(ctx context.Context, spec scene.RectangleSpec) error {
	cmd, err := spec.Resolve()
	if err != nil {
		return err
	}
	err = cv.client.postJSON(ctx, "/api/draw/rectangle", map[string]any{
		"id": cv.ID, "x": cmd.X, "y": cmd.Y, "width": cmd.Width, "height": cmd.Height, "color": cmd.Color.String(),
	}, &drawResponse{})
	if err != nil {
		return err
	}
	cv.commit(ctx, cmd, cv.client.images)
	return nil
}

// Circle draws a circle. Invalid arguments are rejected locally.
func (cv *Canvas) Circle(ctx context.Context, spec scene.CircleSpec) error {
	cmd, err := spec.Resolve()
	if err != nil {
		return err
	}
	err = cv.client.postJSON(ctx, "/api/draw/circle", map[string]any{
		"id": cv.ID, "x": cmd.X, "y": cmd.Y, "radius": cmd.Radius, "color": cmd.Color.String(),
	}, &drawResponse{})
	if err != nil {
		return err
	}
	cv.commit(ctx, cmd, cv.client.images)
	return nil
}

// Text draws a line of text. Invalid arguments are rejected locally.
func (cv *Canvas) Text(ctx context.Context, spec scene.TextSpec) error {
	cmd, err := spec.Resolve()
	if err != nil {
		return err
	}
	err = cv.client.postJSON(ctx, "/api/draw/text", map[string]any{
		"id": cv.ID, "text": cmd.Content, "x": cmd.X, "y": cmd.Y,
		"fontSize": cmd.FontSize, "fontFamily": cmd.FontFamily, "color": cmd.Color.String(),
	}, &drawResponse{})
	if err != nil {
		return err
	}
	cv.commit(ctx, cmd, cv.client.images)
	return nil
}

// ImageData uploads an image file. mimeType may be empty.
func (cv *Canvas) ImageData(ctx context.Context, data []byte, mimeType string, spec scene.ImageSpec) error {
	decoded, err := cv.client.images.Resolve(ctx, imageref.Input{Data: data, MIMEType: mimeType})
	if err != nil {
		return err
	}
	cmd, err := spec.Resolve(decoded.Ref, decoded.Width, decoded.Height)
	if err != nil {
		return err
	}
	fields := map[string]string{
		"id": cv.ID, "x": formatInt(spec.X), "y": formatInt(spec.Y),
		"width": formatInt(spec.Width), "height": formatInt(spec.Height),
	}
	if err := cv.client.postMultipart(ctx, "/api/draw/image", fields, decoded.Ref.MIMEType, data, &drawResponse{}); err != nil {
		return err
	}
	cv.commit(ctx, cmd, cv.client.images.WithDecoded(decoded))
	return nil
}

// ImageURL draws a remote image, which is loaded by both the server
// and the client.
func (cv *Canvas) ImageURL(ctx context.Context, imageURL string, spec scene.ImageSpec) error {
	decoded, err := cv.client.images.Resolve(ctx, imageref.Input{URL: imageURL})
	if err != nil {
		return err
	}
	cmd, err := spec.Resolve(decoded.Ref, decoded.Width, decoded.Height)
	if err != nil {
		return err
	}
	err = cv.client.postJSON(ctx, "/api/draw/image", map[string]any{
		"id": cv.ID, "imageUrl": imageURL, "x": spec.X, "y": spec.Y, "width": spec.Width, "height": spec.Height,
	}, &drawResponse{})
	if err != nil {
		return err
	}
	cv.commit(ctx, cmd, cv.client.images.WithDecoded(decoded))
	return nil
}

// Export downloads the PDF document.
func (cv *Canvas) Export(ctx context.Context, w io.Writer) error {
	return cv.client.do(ctx, http.MethodGet, "/api/export/"+url.PathEscape(cv.ID), "", nil, w)
}

// Records downloads the command log of the server.
func (cv *Canvas) Records(ctx context.Context) ([]scene.Record, error) {
	var out []scene.Record
	err := cv.client.do(ctx, http.MethodGet, "/api/debug/"+url.PathEscape(cv.ID), "", nil, &out)
	return out, err
}

// ServerPreview downloads the PNG rendered by the server.
func (cv *Canvas) ServerPreview(ctx context.Context, w io.Writer) error {
	return cv.client.do(ctx, http.MethodGet, "/api/preview/"+url.PathEscape(cv.ID), "", nil, w)
}

// Preview returns a copy of the local mirror.
func (cv *Canvas) Preview() *image.RGBA { return cv.preview.Snapshot() }

// Len returns the number of commands painted locally.
func (cv *Canvas) Len() int { return cv.scene.Len() }

// Delete removes the session from the server.
func (cv *Canvas) Delete(ctx context.Context) error {
	return cv.client.do(ctx, http.MethodDelete, "/api/session/"+url.PathEscape(cv.ID), "", nil, nil)
}

type watchMessage struct {
	From    int            `json:"from"`
	Records []scene.Record `json:"records"`
}

// Watch streams the server log of the session, starting with the
// existing records, until ctx is done or fn fails.
func (cv *Canvas) Watch(ctx context.Context, fn func(from int, records []scene.Record) error) error {
	u := "ws" + strings.TrimPrefix(cv.client.baseURL, "http") + "/api/watch/" + url.PathEscape(cv.ID)
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return decodeAPIError(resp)
		}
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var msg watchMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(msg.From, msg.Records); err != nil {
			return err
		}
	}
}
