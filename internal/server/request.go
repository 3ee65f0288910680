package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scene"
)

// number accepts a JSON number or a numeric string, as sent by HTML
// forms. null and "" mean "not supplied", that is zero.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseNumber(s)
		if err != nil {
			return err
		}
		*n = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*n = number(f)
	return nil
}

func parseNumber(s string) (number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return number(f), nil
}

// toInt truncates, as parseInt does.
func (n number) toInt() int {
	f := float64(n)
	if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

type initializeRequest struct {
	Width  number `json:"width"`
	Height number `json:"height"`
}

type rectangleRequest struct {
	ID     string `json:"id"`
	X      number `json:"x"`
	Y      number `json:"y"`
	Width  number `json:"width"`
	Height number `json:"height"`
	Color  string `json:"color"`
}

func (r rectangleRequest) spec() scene.RectangleSpec {
	return scene.RectangleSpec{X: float64(r.X), Y: float64(r.Y), Width: float64(r.Width), Height: float64(r.Height), Color: r.Color}
}

type circleRequest struct {
	ID     string `json:"id"`
	X      number `json:"x"`
	Y      number `json:"y"`
	Radius number `json:"radius"`
	Color  string `json:"color"`
}

func (r circleRequest) spec() scene.CircleSpec {
	return scene.CircleSpec{X: float64(r.X), Y: float64(r.Y), Radius: float64(r.Radius), Color: r.Color}
}

type textRequest struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	X          number `json:"x"`
	Y          number `json:"y"`
	FontSize   number `json:"fontSize"`
	FontFamily string `json:"fontFamily"`
	Color      string `json:"color"`
}

func (r textRequest) spec() scene.TextSpec {
	return scene.TextSpec{
		Text: r.Text, X: float64(r.X), Y: float64(r.Y),
		FontSize: float64(r.FontSize), FontFamily: r.FontFamily, Color: r.Color,
	}
}

// imageRequest is the JSON form of an image request. ImageFile is a
// data URL.
type imageRequest struct {
	ID        string `json:"id"`
	X         number `json:"x"`
	Y         number `json:"y"`
	Width     number `json:"width"`
	Height    number `json:"height"`
	ImageFile string `json:"imageFile"`
	ImageURL  string `json:"imageUrl"`
}

func (r imageRequest) spec() scene.ImageSpec {
	return scene.ImageSpec{X: float64(r.X), Y: float64(r.Y), Width: float64(r.Width), Height: float64(r.Height)}
}

// decodeJSON reads the body of r into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if err := checkLength(r, limit); err != nil {
		return err
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return requestError("decode request", err)
	}
	return nil
}

// checkLength rejects the bodies announced larger than limit.
func checkLength(r *http.Request, limit int64) error {
	if r.ContentLength > limit {
		return domain.NewError("read request", domain.ErrPayloadTooLarge,
			fmt.Sprintf("%d bytes, limit is %d", r.ContentLength, limit))
	}
	return nil
}

// requestError wraps a body reading error into a domain error.
func requestError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewError(op, domain.ErrPayloadTooLarge, fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
	}
	if errors.Is(err, io.EOF) {
		return domain.NewError(op, domain.ErrInvalidArgument, "empty body")
	}
	return domain.NewError(op, domain.ErrInvalidArgument, err.Error())
}

// parseImageRequest accepts a multipart form with an imageFile part,
// or a JSON body. The image itself is decoded later, once the
// session is known to exist. On error, the returned request carries
// the session id when it could be read.
func parseImageRequest(w http.ResponseWriter, r *http.Request, limit int64) (imageRequest, imageref.Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req imageRequest
		if err := decodeJSON(w, r, limit, &req); err != nil {
			return req, imageref.Input{}, err
		}
		return req, imageref.Input{URL: req.ImageURL, DataURL: req.ImageFile}, nil
	}

	if err := checkLength(r, limit); err != nil {
		return imageRequest{}, imageref.Input{}, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return imageRequest{}, imageref.Input{}, requestError("parse multipart form", err)
	}
	defer r.MultipartForm.RemoveAll()

	var req imageRequest
	req.ID = r.FormValue("id")
	req.ImageURL = r.FormValue("imageUrl")
	for _, field := range []struct {
		name string
		dst  *number
	}{{"x", &req.X}, {"y", &req.Y}, {"width", &req.Width}, {"height", &req.Height}} {
		v, err := parseNumber(r.FormValue(field.name))
		if err != nil {
			return req, imageref.Input{}, domain.NewError("parse multipart form", domain.ErrInvalidArgument, field.name+": "+err.Error())
		}
		*field.dst = v
	}

	in := imageref.Input{URL: req.ImageURL}
	file, header, err := r.FormFile("imageFile")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return req, in, requestError("read imageFile", err)
	default:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return req, in, requestError("read imageFile", err)
		}
		in.Data, in.MIMEType = data, header.Header.Get("Content-Type")
	}
	return req, in, nil
}
