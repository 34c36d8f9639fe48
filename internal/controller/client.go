package controller

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/rws-client/internal/lifecycle"
)

// Default timeouts and limits for controller requests.
const (
	// defaultRequestTimeout bounds every request unless configured otherwise.
	defaultRequestTimeout = 30 * time.Second

	// defaultKeepaliveTimeout bounds requests issued while unloading.
	defaultKeepaliveTimeout = 5 * time.Second

	// defaultStatusCacheTTL is how long a decoded return code stays cached.
	defaultStatusCacheTTL = time.Hour

	// statusCacheCapacity caps the number of cached return codes.
	statusCacheCapacity = 512

	// maxResponseSize limits how much of a response body is read (4MB).
	maxResponseSize = 4 << 20

	// AcceptHAL is the media type requested from the controller.
	AcceptHAL = "application/hal+json;v=2.0"

	// ContentTypeForm is the media type of request bodies.
	ContentTypeForm = "application/x-www-form-urlencoded;v=2.0"
)

// Config holds controller connection settings.
type Config struct {
	// BaseURL is the controller root, e.g. "https://192.168.125.1".
	BaseURL string

	Username string
	Password string

	// RequestTimeout bounds every request. Default: 30s.
	RequestTimeout time.Duration

	// KeepaliveTimeout bounds requests issued while unloading. Default: 5s.
	KeepaliveTimeout time.Duration

	// InsecureSkipVerify accepts self-signed controller certificates.
	InsecureSkipVerify bool

	// StatusCacheTTL is how long decoded return codes are cached. Default: 1h.
	StatusCacheTTL time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Response is a completed 2xx controller response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// HeaderValue returns the first value of the named response header.
func (r *Response) HeaderValue(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// DecodeHAL unmarshals the HAL+JSON body into v.
func (r *Response) DecodeHAL(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

// Client issues requests to the controller service.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The cookie jar is shared with WebSocket dials so the subscription socket
//     joins the same controller session.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	jar     http.CookieJar
	tlsCfg  *tls.Config

	statuses *ttlcache.Cache[int, ControllerStatus]
	lookups  singleflight.Group

	life *lifecycle.State

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a controller client.
//
// Parameters:
//   - cfg: Connection settings; BaseURL must be an absolute http(s) URL
//
// Returns:
//   - *Client: Client ready for use (no request is made)
//   - error: ErrInvalidConfig if the base URL is unusable
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = defaultStatusCacheTTL
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- controllers ship self-signed certificates
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck // DefaultTransport is always *http.Transport
	transport.TLSClientConfig = tlsCfg

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		jar:    jar,
		tlsCfg: tlsCfg,
		statuses: ttlcache.New[int, ControllerStatus](
			ttlcache.WithTTL[int, ControllerStatus](cfg.StatusCacheTTL),
			ttlcache.WithCapacity[int, ControllerStatus](statusCacheCapacity),
		),
	}, nil
}

// SetLifecycle attaches the process lifecycle state so requests switch to
// keepalive mode once unloading begins.
func (c *Client) SetLifecycle(life *lifecycle.State) {
	c.life = life
}

// SetLogger sets a logger for request diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// BaseURL returns the controller root URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Jar returns the session cookie jar.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// TLSConfig returns the TLS settings used for controller connections.
func (c *Client) TLSConfig() *tls.Config {
	return c.tlsCfg
}

// AuthHeader returns the headers that authenticate a WebSocket handshake.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.cfg.Username != "" {
		h.Set("Authorization", basicAuth(c.cfg.Username, c.cfg.Password))
	}
	return h
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.Send(ctx, http.MethodGet, path, "", headers)
}

// Post issues a POST request with a form-urlencoded body.
func (c *Client) Post(ctx context.Context, path, body string, headers http.Header) (*Response, error) {
	return c.Send(ctx, http.MethodPost, path, body, headers)
}

// Put issues a PUT request with a form-urlencoded body.
func (c *Client) Put(ctx context.Context, path, body string, headers http.Header) (*Response, error) {
	return c.Send(ctx, http.MethodPut, path, body, headers)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.Send(ctx, http.MethodDelete, path, "", headers)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.Send(ctx, http.MethodHead, path, "", headers)
}

// Send issues a request and returns the response if the status is 2xx.
//
// Parameters:
//   - ctx: Context for cancellation; ignored for cancellation while unloading
//   - method: HTTP method
//   - path: Path (and optional query) relative to the controller root
//   - body: Form-urlencoded body, empty for none
//   - headers: Extra request headers (may be nil)
//
// Returns:
//   - *Response: The 2xx response
//   - error: *StatusError on non-2xx, network failure or timeout
func (c *Client) Send(ctx context.Context, method, path, body string, headers http.Header) (*Response, error) {
	return c.send(ctx, method, path, body, headers, true)
}

// send performs the request; decode controls whether failure bodies are
// resolved to a ControllerStatus (disabled for the return code lookup itself).
func (c *Client) send(ctx context.Context, method, path, body string, headers http.Header, decode bool) (*Response, error) {
	timeout := c.cfg.RequestTimeout
	if c.life != nil && c.life.Unloading() {
		ctx = context.WithoutCancel(ctx)
		timeout = c.cfg.KeepaliveTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.resolve(path), reader)
	if err != nil {
		return nil, &StatusError{
			Message: "building request",
			Method:  method,
			Path:    path,
			Err:     fmt.Errorf("%w: %w", ErrNetwork, err),
		}
	}

	req.Header.Set("Accept", AcceptHAL)
	if reader != nil || method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", ContentTypeForm)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		sentinel := ErrNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		return nil, &StatusError{
			Message: err.Error(),
			Method:  method,
			Path:    path,
			Err:     fmt.Errorf("%w: %w", sentinel, err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &StatusError{
			Message:    "reading response body",
			Method:     method,
			Path:       path,
			HTTPStatus: HTTPStatus{Code: resp.StatusCode, Text: http.StatusText(resp.StatusCode)},
			Err:        fmt.Errorf("%w: %w", ErrNetwork, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.failure(ctx, method, path, resp.StatusCode, data, decode)
	}

	if logger := c.getLogger(); logger != nil {
		logger.Debug("controller request", "method", method, "path", path, "status", resp.StatusCode)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// resolve joins a request path onto the base URL.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// errorBody is the controller's error document.
type errorBody struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
}

// failure builds the StatusError for a non-2xx response.
func (c *Client) failure(ctx context.Context, method, path string, code int, body []byte, decode bool) *StatusError {
	se := &StatusError{
		Message:    "request failed",
		Method:     method,
		Path:       path,
		HTTPStatus: HTTPStatus{Code: code, Text: http.StatusText(code)},
		Err:        ErrRequestFailed,
	}

	var eb errorBody
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &eb) != nil || eb.Status.Code == 0 {
		return se
	}
	if eb.Status.Msg != "" {
		se.Message = eb.Status.Msg
	}

	status := ControllerStatus{Code: eb.Status.Code, Description: eb.Status.Msg}
	if decode {
		if resolved, err := c.LookupStatus(ctx, eb.Status.Code); err == nil {
			status = resolved
		} else if logger := c.getLogger(); logger != nil {
			logger.Debug("return code lookup failed", "code", eb.Status.Code, "error", err)
		}
	}
	se.ControllerStatus = &status
	return se
}

// retcodeState is one entry of the /rw/retcode response.
type retcodeState struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// retcodeBody accepts both the flat "state" list and the embedded resources form.
type retcodeBody struct {
	State    []retcodeState `json:"state"`
	Embedded struct {
		Resources []retcodeState `json:"resources"`
	} `json:"_embedded"`
}

// LookupStatus resolves a controller return code to its name, severity and
// description. Results are cached per code; concurrent lookups share one request.
func (c *Client) LookupStatus(ctx context.Context, code int) (ControllerStatus, error) {
	if item := c.statuses.Get(code); item != nil {
		return item.Value(), nil
	}

	v, err, _ := c.lookups.Do(fmt.Sprint(code), func() (any, error) {
		resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/rw/retcode?code=%d", code), "", nil, false)
		if err != nil {
			return ControllerStatus{}, err
		}

		var body retcodeBody
		if err := resp.DecodeHAL(&body); err != nil {
			return ControllerStatus{}, err
		}

		entries := body.State
		if len(entries) == 0 {
			entries = body.Embedded.Resources
		}
		if len(entries) == 0 {
			return ControllerStatus{}, fmt.Errorf("%w: no retcode entry for %d", ErrMalformedResponse, code)
		}

		status := ControllerStatus{
			Code:        code,
			Name:        entries[0].Name,
			Severity:    entries[0].Severity,
			Description: entries[0].Description,
		}
		c.statuses.Set(code, status, ttlcache.DefaultTTL)
		return status, nil
	})
	if err != nil {
		return ControllerStatus{}, err
	}
	return v.(ControllerStatus), nil //nolint:errcheck // singleflight returns what the closure produced
}

// basicAuth builds a Basic Authorization header value.
func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
