// Package static downloads raw resources such as images with a plain HTTP collector.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrTooLarge is returned when a body exceeds the configured size limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int
}

// Download is a fetched resource. Non-2xx responses are returned with their status, not as errors.
type Download struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the response status is 2xx.
func (d Download) OK() bool {
	return d.StatusCode >= 200 && d.StatusCode < 300
}

// Downloader fetches single resources using the Colly collector.
type Downloader struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Downloader{cfg: cfg, baseCollector: c}
}

// Download performs a single GET and returns the body with its status and content type.
func (d *Downloader) Download(ctx context.Context, rawURL string) (Download, error) {
	var (
		result   Download
		fetchErr error
	)
	collector := d.buildCollector(&result, &fetchErr)
	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Download{}, err
	}
	if len(result.Body) > d.cfg.MaxBytes {
		return Download{}, fmt.Errorf("download %s: %w", rawURL, ErrTooLarge)
	}
	return result, nil
}

func (d *Downloader) buildCollector(result *Download, fetchErr *error) *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	// One extra byte lets oversized bodies be detected instead of silently truncated.
	collector.MaxBodySize = d.cfg.MaxBytes + 1
	collector.SetRequestTimeout(d.cfg.Timeout)

	configureHooks(collector, result, fetchErr)
	return collector
}

func configureHooks(hooks collectorHooks, result *Download, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = Download{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("download canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
