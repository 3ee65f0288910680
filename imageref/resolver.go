// Package imageref turns uploaded bytes or remote URLs into
// image references which can be stored in a scene, and loads
// the pixels of these references again when a scene is replayed.
package imageref

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scene"
)

// Default resolver settings.
const (
	defaultFetchTimeout    = 10 * time.Second
	defaultMaxBytes        = 10 << 20
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = 60 * time.Second
)

// Config configures the fetching of remote images.
type Config struct {
	// FetchTimeout bounds one remote fetch, body included.
	FetchTimeout time.Duration
	// MaxBytes is the largest accepted image, inline or remote.
	MaxBytes int64
	// MaxPixels is the largest accepted image, once decoded.
	MaxPixels int
	// AllowPrivateNetworks disables the SSRF protection.
	AllowPrivateNetworks bool
	// BreakerFailures consecutive fetch failures open the circuit
	// for BreakerTimeout: fetches then fail fast.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// RatePerSecond limits outbound fetches (0 means unlimited).
	RatePerSecond float64
	Burst         int
	UserAgent     string
}

// Input is an image source as given by a client:
// exactly one of Data, DataURL or URL must be set.
// A data URL given as URL is handled as an upload.
type Input struct {
	Data     []byte
	MIMEType string // of Data, optional
	// DataURL is an upload encoded as a "data:" URL.
	DataURL string
	URL     string
}

func (in Input) sources() int {
	n := 0
	if len(in.Data) > 0 {
		n++
	}
	if in.DataURL != "" {
		n++
	}
	if in.URL != "" {
		n++
	}
	return n
}

// Decoded is a resolved image: its pixels and the reference to
// store in the scene.
type Decoded struct {
	Image         image.Image
	Width, Height int // intrinsic size
	Ref           scene.SourceRef
}

// Resolver resolves and loads images. It is safe for concurrent use.
type Resolver struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ scene.ImageLoader = (*Resolver)(nil)

// New returns a resolver. Zero fields of cfg are replaced by defaults.
func New(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = defaultMaxPixels
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "okcanvas"
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	r := &Resolver{
		cfg: cfg,
		client: &http.Client{
			Transport: newTransport(cfg.AllowPrivateNetworks, cfg.FetchTimeout),
			Timeout:   cfg.FetchTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "imageref:fetch",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultBreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// the client's fault, not the remote host's
			return err == nil || errors.Is(err, domain.ErrPayloadTooLarge) ||
				errors.Is(err, domain.ErrFetchBlocked) || errors.Is(err, context.Canceled)
		},
	})
	return r
}

// Resolve loads the image once, to check it and learn its size.
// Uploads are kept verbatim in the reference, remote images only
// by URL.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Decoded, error) {
	if in.sources() != 1 {
		return Decoded{}, domain.NewError("Resolve", domain.ErrMissingImageSource, "")
	}

	var ref scene.SourceRef
	switch {
	case len(in.Data) > 0:
		ref = scene.InlineSource(sniffMIME(in.MIMEType, in.Data), in.Data)
	case in.DataURL != "":
		var err error
		ref, err = scene.ParseSource(in.DataURL)
		if err != nil {
			return Decoded{}, err
		}
		if ref.Kind != scene.SourceInline {
			return Decoded{}, domain.NewError("Resolve", domain.ErrInvalidArgument, "upload must be a data URL")
		}
		ref.MIMEType = sniffMIME(ref.MIMEType, ref.Data)
	default:
		var err error
		ref, err = scene.ParseSource(in.URL)
		if err != nil {
			return Decoded{}, err
		}
		if ref.Kind == scene.SourceInline {
			ref.MIMEType = sniffMIME(ref.MIMEType, ref.Data)
		}
	}

	img, err := r.LoadImage(ctx, ref)
	if err != nil {
		return Decoded{}, err
	}
	b := img.Bounds()
	return Decoded{Image: img, Width: b.Dx(), Height: b.Dy(), Ref: ref}, nil
}

// LoadImage derives the pixels of ref again: inline bytes are decoded,
// remote URLs are fetched. Nothing is cached.
func (r *Resolver) LoadImage(ctx context.Context, ref scene.SourceRef) (image.Image, error) {
	data := ref.Data
	if ref.Kind == scene.SourceRemote {
		var err error
		data, err = r.fetch(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return nil, domain.NewError("LoadImage", domain.ErrPayloadTooLarge, fmt.Sprintf("%d bytes", len(data)))
	}
	return decode(data, r.cfg.MaxPixels)
}

// WithDecoded returns a loader serving d.Image for d.Ref, and
// delegating to r for every other reference. It avoids loading
// twice an image which has just been resolved.
func (r *Resolver) WithDecoded(d Decoded) scene.ImageLoader {
	return scene.ImageLoaderFunc(func(ctx context.Context, ref scene.SourceRef) (image.Image, error) {
		if sameSource(ref, d.Ref) {
			return d.Image, nil
		}
		return r.LoadImage(ctx, ref)
	})
}

func sameSource(a, b scene.SourceRef) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == scene.SourceRemote {
		return a.URL == b.URL
	}
	// inline references share their bytes
	return len(a.Data) == len(b.Data) && (len(a.Data) == 0 || &a.Data[0] == &b.Data[0])
}

// fetch downloads url, through the rate limiter and the circuit breaker.
func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ValidateURL(url, r.cfg.AllowPrivateNetworks); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapOp("imageref.fetch", err)
	}
	start := time.Now()
	data, err := r.breaker.Execute(func() ([]byte, error) {
		return r.get(ctx, url)
	})
	if err != nil {
		r.logger.Debug("image fetch failed", "url", url, "error", err, "duration", time.Since(start))
		if errors.Is(err, domain.ErrPayloadTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	r.logger.Debug("image fetched", "url", url, "bytes", len(data), "duration", time.Since(start))
	return data, nil
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "image/*")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength > r.cfg.MaxBytes {
		return nil, domain.NewError("imageref.get", domain.ErrPayloadTooLarge, fmt.Sprintf("%d bytes announced", resp.ContentLength))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return nil, domain.NewError("imageref.get", domain.ErrPayloadTooLarge, fmt.Sprintf("more than %d bytes", r.cfg.MaxBytes))
	}
	return data, nil
}

// BreakerState returns the state of the remote fetch circuit breaker.
func (r *Resolver) BreakerState() gobreaker.State { return r.breaker.State() }
