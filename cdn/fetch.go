package cdn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"github.com/wowemulation-dev/ngdp/metrics"
	"github.com/wowemulation-dev/ngdp/resolver"
	"github.com/wowemulation-dev/ngdp/telemetry"
	"k8s.io/klog/v2"
)

// Kind is the CDN content type segment of the path:
// http://{host}/{path}/{type}/{h[0:2]}/{h[2:4]}/{h}.
type Kind string

const (
	KindData   Kind = "data"
	KindConfig Kind = "config"
	KindPatch  Kind = "patch"
)

// Client fetches content from a list of CDN mirror hosts, retrying
// transient failures and falling through to the next mirror on 404.
type Client struct {
	httpClient *http.Client
	mirrors    []Mirror
	retry      resolver.RetryPolicy
	ranges     *archiveRangeCache

	// archives maps a cdnindex.Entry.ArchiveIndex to the archive's own
	// content hash, the `archives` field of the loaded CDN config.
	archives []string
}

// Mirror is one CDN host serving a given CDN path prefix, per the
// product's `cdns` BPSV response (host + path pair).
type Mirror struct {
	Host string
	Path string
}

// NewClient builds a CDN client over mirrors, tried in order.
func NewClient(httpClient *http.Client, mirrors []Mirror) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Client{
		httpClient: httpClient,
		mirrors:    mirrors,
		retry:      resolver.DefaultRetryPolicy(),
		ranges:     newArchiveRangeCache(64 << 20),
	}
}

func hashPath(kind Kind, h string) string {
	h = normalizeKey(h)
	if len(h) < 4 {
		return string(kind) + "/" + h
	}
	return string(kind) + "/" + h[0:2] + "/" + h[2:4] + "/" + h
}

func normalizeKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'F' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func mirrorURL(m Mirror, kind Kind, hash string) string {
	return fmt.Sprintf("http://%s/%s/%s", m.Host, m.Path, hashPath(kind, hash))
}

// FetchLoose performs a whole-file GET for hash across mirrors in order,
// retrying transient errors on each before moving to the next mirror.
// A 404 on every mirror surfaces as ngdperr.Missing.
func (c *Client) FetchLoose(ctx context.Context, hash string, kind Kind) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "cdn.FetchLoose")
	defer span.End()

	var lastErr error
	for _, m := range c.mirrors {
		url := mirrorURL(m, kind, hash)
		var body []byte
		err := resolver.Do(ctx, c.retry, func(ctx context.Context) error {
			b, status, err := c.get(ctx, url, "")
			if err != nil {
				return err
			}
			if status == http.StatusNotFound {
				return &ngdperr.Missing{Kind: "cdn_loose", Resource: url}
			}
			if status != http.StatusOK {
				return &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("status %d", status)}
			}
			body = b
			return nil
		})
		if err == nil {
			return body, nil
		}
		lastErr = err
		klog.V(2).Infof("cdn: loose fetch of %s failed, trying next mirror: %v", url, err)
	}
	if lastErr == nil {
		lastErr = &ngdperr.Missing{Kind: "cdn_loose", Resource: hash}
	}
	return nil, lastErr
}

// SetArchives records the CDN config's ordered archive hash list, so
// FetchArchiveIndex can translate a cdnindex.Entry.ArchiveIndex into the
// archive's own content hash.
func (c *Client) SetArchives(archives []string) {
	c.archives = archives
}

// FetchArchiveIndex performs a ranged GET into the archive named by
// archiveIndex (an index into the CDN config's archive list set by
// SetArchives).
func (c *Client) FetchArchiveIndex(ctx context.Context, archiveIndex uint16, offset, size uint32) ([]byte, error) {
	if int(archiveIndex) >= len(c.archives) {
		return nil, &ngdperr.Missing{Kind: "archive_index", Resource: fmt.Sprintf("index %d", archiveIndex)}
	}
	return c.FetchArchiveRange(ctx, c.archives[archiveIndex], offset, size)
}

// FetchArchiveRange performs a ranged GET into a named archive file
// across mirrors, serving from the byte-range cache when possible.
func (c *Client) FetchArchiveRange(ctx context.Context, archiveHash string, offset, size uint32) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "cdn.FetchArchiveRange")
	defer span.End()

	if v, ok := c.ranges.get(archiveHash, int64(offset), int64(size)); ok {
		metrics.CacheRequests.WithLabelValues("cdn_range", "hit").Inc()
		return v, nil
	}
	metrics.CacheRequests.WithLabelValues("cdn_range", "miss").Inc()

	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, uint64(offset)+uint64(size)-1)
	var lastErr error
	for _, m := range c.mirrors {
		url := mirrorURL(m, KindData, archiveHash)
		var body []byte
		err := resolver.Do(ctx, c.retry, func(ctx context.Context) error {
			b, status, err := c.get(ctx, url, rangeHeader)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusPartialContent, http.StatusOK:
				body = b
				return nil
			case http.StatusNotFound:
				return &ngdperr.Missing{Kind: "cdn_archive", Resource: url}
			case http.StatusTooManyRequests:
				return &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("rate limited")}
			default:
				return &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("status %d", status)}
			}
		})
		if err == nil {
			c.ranges.put(archiveHash, int64(offset), body)
			return body, nil
		}
		lastErr = err
		klog.V(2).Infof("cdn: range fetch of %s failed, trying next mirror: %v", url, err)
	}
	if lastErr == nil {
		lastErr = &ngdperr.Missing{Kind: "cdn_archive", Resource: archiveHash}
	}
	return nil, lastErr
}

// get issues one HTTP GET, optionally with a Range header, and classifies
// network-level failures (not HTTP status codes) as Transient.
func (c *Client) get(ctx context.Context, url, rangeHeader string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &ngdperr.Protocol{Kind: "bad_request", Detail: err.Error()}
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ngdperr.Transient{Op: "GET", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				transient := &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("429 rate limited")}
				return nil, resp.StatusCode, &retryAfterError{transient: transient, d: time.Duration(secs) * time.Second}
			}
		}
	}
	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &ngdperr.Transient{Op: "read", URL: url, Err: err}
	}
	return body, resp.StatusCode, nil
}

// retryAfterError is a Transient error that honors a server-specified
// Retry-After duration instead of the computed backoff. It unwraps to its
// underlying *ngdperr.Transient so resolver.isRetryable still recognizes
// it as retryable.
type retryAfterError struct {
	transient *ngdperr.Transient
	d         time.Duration
}

func (e *retryAfterError) Error() string           { return e.transient.Error() }
func (e *retryAfterError) Unwrap() error           { return e.transient }
func (e *retryAfterError) RetryAfter() time.Duration { return e.d }
