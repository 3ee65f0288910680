package scene

import (
	"encoding/json"
	"fmt"
)

// Record is the JSON form of a command, as listed by the debug
// endpoint and streamed to watchers:
//
//	{"type": "circle", "params": {"x": 10, "y": 10, "radius": 5, "color": "#ff0000"}}
//
// Image sources are written as data URLs or remote URLs.
type Record struct {
	Command Command
}

type rectangleParams struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  Color   `json:"color"`
}

type circleParams struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Color  Color   `json:"color"`
}

type textParams struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FontSize   float64 `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
	Color      Color   `json:"color"`
}

type imageParams struct {
	Src    string `json:"src"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type wireRecord struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// Records wraps the commands for JSON encoding.
func Records(cmds []Command) []Record {
	out := make([]Record, len(cmds))
	for i, cmd := range cmds {
		out[i] = Record{Command: cmd}
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	var params interface{}
	switch cmd := r.Command.(type) {
	case Rectangle:
		params = rectangleParams{X: cmd.X, Y: cmd.Y, Width: cmd.Width, Height: cmd.Height, Color: cmd.Color}
	case Circle:
		params = circleParams{X: cmd.X, Y: cmd.Y, Radius: cmd.Radius, Color: cmd.Color}
	case Text:
		params = textParams{Text: cmd.Content, X: cmd.X, Y: cmd.Y, FontSize: cmd.FontSize, FontFamily: cmd.FontFamily, Color: cmd.Color}
	case Image:
		params = imageParams{Src: cmd.Source.String(), X: cmd.X, Y: cmd.Y, Width: cmd.Width, Height: cmd.Height}
	default:
		return nil, fmt.Errorf("unsupported command %T", r.Command)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecord{Type: r.Command.Kind().String(), Params: raw})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	kind, ok := parseKind(wire.Type)
	if !ok {
		return fmt.Errorf("unknown command type %q", wire.Type)
	}
	switch kind {
	case KindRectangle:
		var p rectangleParams
		if err := json.Unmarshal(wire.Params, &p); err != nil {
			return err
		}
		r.Command = Rectangle{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height, Color: p.Color}
	case KindCircle:
		var p circleParams
		if err := json.Unmarshal(wire.Params, &p); err != nil {
			return err
		}
		r.Command = Circle{X: p.X, Y: p.Y, Radius: p.Radius, Color: p.Color}
	case KindText:
		var p textParams
		if err := json.Unmarshal(wire.Params, &p); err != nil {
			return err
		}
		r.Command = Text{Content: p.Text, X: p.X, Y: p.Y, FontSize: p.FontSize, FontFamily: p.FontFamily, Color: p.Color}
	case KindImage:
		var p imageParams
		if err := json.Unmarshal(wire.Params, &p); err != nil {
			return err
		}
		src, err := ParseSource(p.Src)
		if err != nil {
			return err
		}
		r.Command = Image{Source: src, X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
	}
	return nil
}
