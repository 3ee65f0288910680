// Package client is a Go client of the canvas HTTP API.
//
// Like the web client, it posts each drawing to the server and, once
// accepted, paints it on a local raster mirror, so that a preview is
// available without a round trip.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/domain"
)

// APIError is an error answered by the server.
type APIError struct {
	Status  int
	Code    domain.ErrorCode
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvas API: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap returns the sentinel matching the error code, so that
// errors.Is(err, domain.ErrSessionNotFound) works on the client side.
func (e *APIError) Unwrap() error { return domain.SentinelOf(e.Code) }

// Client talks to one canvas server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	images  *imageref.Resolver
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithImageResolver sets the resolver used to load images locally.
func WithImageResolver(r *imageref.Resolver) Option { return func(c *Client) { c.images = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New returns a client of the server at baseURL, such as "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.images == nil {
		c.images = imageref.New(imageref.Config{}, c.logger)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	switch out := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err = io.Copy(out, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Code: domain.CodeUnknown}
	var body struct {
		Error string           `json:"error"`
		Code  domain.ErrorCode `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		if body.Code != "" {
			apiErr.Code = body.Code
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data), out)
}

// postMultipart uploads an image with its placement fields.
func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, mimeType string, file []byte, out any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="imageFile"; filename="image"`)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(file); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), &body, out)
}

// Health returns the number of live sessions on the server.
func (c *Client) Health(ctx context.Context) (int, error) {
	var out struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", "", nil, &out); err != nil {
		return 0, err
	}
	if out.Status != "ok" {
		return 0, errors.New("canvas API: unhealthy server: " + out.Status)
	}
	return out.Sessions, nil
}

func formatInt(v float64) string { return strconv.Itoa(int(v)) }
