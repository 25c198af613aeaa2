// Package fetcher is the access client every source goes through: paced,
// cached, retried HTTP requests and bulk file downloads over HTTP or FTP,
// plus the streaming parsers extractors use on the results.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/org-directory/internal/cache"
	"github.com/sells-group/org-directory/internal/resilience"
)

// ClientOptions configures a Client. One Client is created per source.
type ClientOptions struct {
	// Source names the cache namespace and appears in logs.
	Source string
	// Interval is the minimum spacing between dispatched requests.
	Interval time.Duration
	// Timeout bounds one request including reading the body. Default: 30s.
	Timeout time.Duration
	// DownloadTimeout bounds a whole file transfer. Default: 10m.
	DownloadTimeout time.Duration

	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Jitter randomizes each backoff by up to this fraction.
	Jitter float64

	UserAgent string
	Headers   map[string]string

	// Cache is optional; without it every request goes to the network.
	Cache   cache.Backend
	Breaker *resilience.CircuitBreaker
	// HTTP overrides the underlying client, mainly for tests.
	HTTP *http.Client
}

// Response is a completed request.
type Response struct {
	Status int
	Body   []byte
	Cached bool
}

// Client issues requests for a single source.
type Client struct {
	opts    ClientOptions
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// NewClient builds a Client. The limiter admits one request per Interval
// with no burst credit beyond a single request.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 10 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "org-directory/1.0"
	}
	hc := opts.HTTP
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("source", opts.Source))
	retry := resilience.FromRetryConfig(opts.MaxRetries, opts.BaseBackoff, opts.MaxBackoff, opts.Jitter)
	retry.OnRetry = resilience.RetryLogger(opts.Source, "request")

	return &Client{
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
		log:     log,
	}
}

// Source returns the source name the client was built for.
func (c *Client) Source() string { return c.opts.Source }

// Request performs method against rawURL. GET params are encoded into the
// query string; other methods send params as a JSON body.
//
// With useCache, a cached response is returned without pacing or network
// access, and a successful network response is persisted before returning.
// 429 and 5xx responses and connection failures are retried with
// exponential backoff; other non-2xx responses fail immediately with a
// resilience.FatalError.
func (c *Client) Request(ctx context.Context, method, rawURL string, params map[string]any, useCache bool) (*Response, error) {
	method = strings.ToUpper(method)
	key, err := cache.Key(method, rawURL, params)
	if err != nil {
		return nil, resilience.NewFatalError(eris.Wrapf(err, "fetcher: %s %s", method, rawURL), 0)
	}

	if useCache && c.opts.Cache != nil {
		e, err := c.opts.Cache.Get(ctx, c.opts.Source, key)
		if err != nil {
			c.log.Warn("cache read failed", zap.Error(err))
		} else if e != nil {
			return &Response{Status: e.Status, Body: e.Body, Cached: true}, nil
		}
	}

	resp, err := resilience.ExecuteVal(ctx, c.opts.Breaker, func(ctx context.Context) (*Response, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Response, error) {
			return c.dispatch(ctx, method, rawURL, params)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: %s %s", method, rawURL)
	}

	if useCache && c.opts.Cache != nil {
		e := cache.Entry{Status: resp.Status, Body: resp.Body, FetchedAt: time.Now()}
		if err := c.opts.Cache.Put(ctx, c.opts.Source, key, e); err != nil {
			c.log.Warn("cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

// RequestJSON is Request followed by decoding the body into out.
func (c *Client) RequestJSON(ctx context.Context, method, rawURL string, params map[string]any, useCache bool, out any) error {
	resp, err := c.Request(ctx, method, rawURL, params, useCache)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resilience.NewFatalError(eris.Wrapf(err, "fetcher: decode %s", rawURL), resp.Status)
	}
	return nil
}

func (c *Client) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "fetcher: pacing wait")
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, method, rawURL string, params map[string]any) (*Response, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, method, rawURL, params)
	if err != nil {
		return nil, resilience.NewFatalError(err, 0)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportErr(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportErr(ctx, err)
	}

	if err := classifyStatus(resp.StatusCode, rawURL); err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// transportErr marks connection-level failures retryable unless the caller
// itself gave up.
func (c *Client) transportErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return eris.Wrap(parent.Err(), "fetcher: cancelled")
	}
	return resilience.NewTransientError(eris.Wrap(err, "fetcher: transport"), 0)
}

func classifyStatus(code int, rawURL string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(eris.Errorf("http %d from %s", code, rawURL), code)
	default:
		return resilience.NewFatalError(eris.Errorf("http %d from %s", code, rawURL), code)
	}
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, params map[string]any) (*http.Request, error) {
	var body io.Reader
	target := rawURL

	if method == http.MethodGet || method == http.MethodHead {
		if len(params) > 0 {
			u, err := url.Parse(rawURL)
			if err != nil {
				return nil, eris.Wrap(err, "fetcher: parse url")
			}
			q := u.Query()
			keys := make([]string, 0, len(params))
			for k := range params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				q.Set(k, fmt.Sprint(params[k]))
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}
	} else if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: encode body")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Download fetches rawURL (http, https or ftp) into dest and returns the
// number of bytes written. The transfer is paced and retried like Request,
// and each attempt is bounded end to end by DownloadTimeout. The file is
// written to a temporary sibling and renamed into place, so dest is either
// absent or complete.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrap(err, "fetcher: create download dir")
	}
	fetch := c.httpDownload
	if strings.HasPrefix(strings.ToLower(rawURL), "ftp://") {
		fetch = c.ftpDownload
	}

	start := time.Now()
	n, err := resilience.ExecuteVal(ctx, c.opts.Breaker, func(ctx context.Context) (int64, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (int64, error) {
			if err := c.pace(ctx); err != nil {
				return 0, err
			}
			dctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
			defer cancel()
			return writeAtomic(dest, func(w io.Writer) (int64, error) {
				n, err := fetch(dctx, rawURL, w)
				if err != nil && ctx.Err() == nil && !resilience.IsFatal(err) {
					// Timeouts and dropped transfers are worth another attempt.
					return n, resilience.NewTransientError(err, resilience.StatusCode(err))
				}
				return n, err
			})
		})
	})
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}
	c.log.Info("downloaded file",
		zap.String("url", rawURL),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

func (c *Client) httpDownload(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, resilience.NewFatalError(eris.Wrap(err, "fetcher: create request"), 0)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: transport")
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyStatus(resp.StatusCode, rawURL); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: read body")
	}
	return n, nil
}

// writeAtomic runs fill against a temp file next to dest and renames it
// over dest only when fill succeeds.
func writeAtomic(dest string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, resilience.NewFatalError(eris.Wrap(err, "fetcher: create temp file"), 0)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	n, err := fill(tmp)
	if err != nil {
		cleanup()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return n, resilience.NewFatalError(eris.Wrap(err, "fetcher: sync temp file"), 0)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return n, resilience.NewFatalError(eris.Wrap(err, "fetcher: close temp file"), 0)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return n, resilience.NewFatalError(eris.Wrap(err, "fetcher: rename download"), 0)
	}
	return n, nil
}
