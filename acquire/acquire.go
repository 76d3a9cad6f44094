// Package acquire turns a user-provided image source, either uploaded bytes
// or a URL, into a decoded image.
package acquire

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	DefaultFetchTimeout = 10 * time.Second

	// MaxFetchBytes bounds how much of a URL response body is read.
	MaxFetchBytes = 20 << 20
)

var (
	ErrNoSource = errors.New("no image source provided")
	ErrDecode   = errors.New("decode failure")
	ErrNetwork  = errors.New("network failure")
)

// Source is the user's image input. Upload takes priority over URL when
// both are set, regardless of entry order.
type Source struct {
	Upload []byte
	URL    string
}

// Type describes the active source for display purposes.
func (s Source) Type() string {
	switch {
	case len(s.Upload) > 0:
		return "Uploaded Image"
	case strings.TrimSpace(s.URL) != "":
		return "URL Image"
	default:
		return ""
	}
}

type Acquirer struct {
	client *http.Client
	log    *zap.Logger
}

func New(timeout time.Duration, log *zap.Logger) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Acquirer{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Acquire resolves the source into a decoded image. A single attempt is
// made per call; there are no retries.
func (a *Acquirer) Acquire(src Source) (image.Image, error) {
	switch {
	case len(src.Upload) > 0:
		return a.decode(src.Upload)
	case strings.TrimSpace(src.URL) != "":
		return a.fetch(strings.TrimSpace(src.URL))
	default:
		return nil, ErrNoSource
	}
}

func (a *Acquirer) decode(data []byte) (image.Image, error) {
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is not an image type", ErrDecode, mt)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func (a *Acquirer) fetch(url string) (image.Image, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrNetwork, err)
	}

	a.log.Debug("fetched image from URL",
		zap.String("url", url),
		zap.Int("bytes", len(data)))

	return a.decode(data)
}
