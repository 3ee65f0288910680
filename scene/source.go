package scene

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// SourceKind tells how the bytes of an image are found again.
type SourceKind uint8

const (
	// SourceInline images carry their encoded bytes.
	SourceInline SourceKind = iota
	// SourceRemote images are fetched again from their URL on every replay.
	SourceRemote
)

func (k SourceKind) String() string {
	switch k {
	case SourceInline:
		return "inline"
	case SourceRemote:
		return "remote"
	default:
		return "<unknown SourceKind>"
	}
}

// SourceRef is the stored reference to the bytes of an image.
// Inline references keep the uploaded bytes verbatim, remote ones
// only keep the URL.
type SourceRef struct {
	Kind     SourceKind
	MIMEType string // inline only
	Data     []byte // inline only
	URL      string // remote only
}

// InlineSource wraps uploaded bytes.
func InlineSource(mimeType string, data []byte) SourceRef {
	return SourceRef{Kind: SourceInline, MIMEType: mimeType, Data: data}
}

// RemoteSource wraps an URL.
func RemoteSource(u string) SourceRef {
	return SourceRef{Kind: SourceRemote, URL: u}
}

// String returns a data URL for inline sources, and the URL itself
// for remote ones.
func (s SourceRef) String() string {
	if s.Kind == SourceRemote {
		return s.URL
	}
	return "data:" + s.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// ParseSource is the inverse of String: data URLs are decoded as inline
// sources, everything else is taken as a remote URL.
func ParseSource(s string) (SourceRef, error) {
	if s == "" {
		return SourceRef{}, domain.ErrMissingImageSource
	}
	if !strings.HasPrefix(s, "data:") {
		return RemoteSource(s), nil
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return SourceRef{}, domain.NewError("ParseSource", domain.ErrDecode, "malformed data URL")
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i] // drop charset and other parameters
	}
	var (
		data []byte
		err  error
	)
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some clients drop the padding
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var text string
		text, err = url.PathUnescape(payload)
		data = []byte(text)
	}
	if err != nil {
		return SourceRef{}, domain.NewError("ParseSource", domain.ErrDecode, fmt.Sprintf("data URL payload: %s", err))
	}
	return InlineSource(mimeType, data), nil
}
