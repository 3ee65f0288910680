package scene

import (
	"strings"

	"golang.org/x/text/cases"
)

// Generic is the family class of a face, used by drivers
// which only embed one font per class.
type Generic uint8

const (
	SansSerif Generic = iota
	Serif
	Monospace
)

// Face is the concrete font a family name is painted with.
type Face struct {
	// Document is the name of the standard PDF font.
	Document string
	Generic  Generic
}

var (
	helvetica = Face{Document: "Helvetica", Generic: SansSerif}
	times     = Face{Document: "Times", Generic: Serif}
	courier   = Face{Document: "Courier", Generic: Monospace}
)

// DefaultFontFamily is used for text commands without family.
const DefaultFontFamily = "Arial"

// substitutions maps case folded family names to the face used instead.
var substitutions = map[string]Face{
	"arial":           helvetica,
	"helvetica":       helvetica,
	"helvetica neue":  helvetica,
	"verdana":         helvetica,
	"tahoma":          helvetica,
	"trebuchet ms":    helvetica,
	"segoe ui":        helvetica,
	"roboto":          helvetica,
	"open sans":       helvetica,
	"system-ui":       helvetica,
	"sans-serif":      helvetica,
	"times":           times,
	"times new roman": times,
	"times-roman":     times,
	"georgia":         times,
	"garamond":        times,
	"serif":           times,
	"courier":         courier,
	"courier new":     courier,
	"consolas":        courier,
	"menlo":           courier,
	"monaco":          courier,
	"monospace":       courier,
}

// fallbackFace is used for families absent from the table.
var fallbackFace = times

// ResolveFace returns the face used to paint the given family.
// CSS lists such as `"Helvetica Neue", Arial, sans-serif` are walked
// in order, the first known family wins. Unknown families fall back
// to Times.
func ResolveFace(family string) Face {
	for _, name := range strings.Split(family, ",") {
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if face, ok := substitutions[cases.Fold().String(name)]; ok {
			return face
		}
	}
	return fallbackFace
}
