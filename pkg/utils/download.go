package utils

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"
)

var ErrMediaTooLarge = errors.New("media too large")

// MediaDownloader fetches remote media for outbound messages with a hard size
// cap enforced while reading the body.
type MediaDownloader struct {
	client  *fasthttp.Client
	maxSize int64
	timeout time.Duration
}

func NewMediaDownloader(maxSize int64, timeout time.Duration) *MediaDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MediaDownloader{
		client: &fasthttp.Client{
			Name:                "az-crm",
			MaxResponseBodySize: int(maxSize),
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		maxSize: maxSize,
		timeout: timeout,
	}
}

// Download returns the body and a file name derived from the URL path.
func (d *MediaDownloader) Download(rawURL string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("invalid media url %q", rawURL)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := d.client.DoRedirects(req, resp, 5); err != nil {
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			return nil, "", d.tooLarge(0)
		}
		return nil, "", fmt.Errorf("failed to download %s: %w", u.Host, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, "", fmt.Errorf("failed to download %s: status %d", u.Host, code)
	}

	body := append([]byte(nil), resp.Body()...)
	if d.maxSize > 0 && int64(len(body)) > d.maxSize {
		return nil, "", d.tooLarge(int64(len(body)))
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "media"
	}
	return body, name, nil
}

func (d *MediaDownloader) tooLarge(size int64) error {
	return TooLargeError(size, d.maxSize)
}

// TooLargeError formats a size violation for humans ("12 MB over 10 MB").
func TooLargeError(size, limit int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: exceeds the %s limit", ErrMediaTooLarge, humanize.Bytes(uint64(limit)))
	}
	return fmt.Errorf("%w: %s exceeds the %s limit", ErrMediaTooLarge, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(limit)))
}
