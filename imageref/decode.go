package imageref

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	// decoders, registered with image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/benoitkugler/okcanvas/internal/domain"
)

// defaultMaxPixels bounds the size of decoded images.
const defaultMaxPixels = 50_000_000

// sniffMIME returns declared unless it is empty or generic,
// in which case the type is guessed from the content.
func sniffMIME(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// decode reads the header first, so that huge images are
// rejected before allocating their pixels.
func decode(data []byte, maxPixels int) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewError("imageref.decode", domain.ErrDecode, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, domain.NewError("imageref.decode", domain.ErrDecode, fmt.Sprintf("empty %s image", format))
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, domain.NewError("imageref.decode", domain.ErrDecode,
			fmt.Sprintf("%s image of %dx%d pixels is too large", format, cfg.Width, cfg.Height))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewError("imageref.decode", domain.ErrDecode, err.Error())
	}
	return img, nil
}
