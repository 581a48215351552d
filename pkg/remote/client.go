package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/pktline"
)

const (
	uploadPackService = "git-upload-pack"

	contentTypeAdvertisement = "application/x-git-upload-pack-advertisement"
	contentTypeRequest       = "application/x-git-upload-pack-request"
	contentTypeResult        = "application/x-git-upload-pack-result"
)

// Endpoint identifies a repository served over git's smart HTTP protocol.
// BaseURL has no trailing slash and no credentials.
type Endpoint struct {
	Raw     string
	BaseURL string
	Name    string // last path segment without ".git"
	user    string
	pass    string
}

// ParseEndpoint parses an http or https repository URL. Credentials in the
// URL are kept for basic auth and stripped from BaseURL.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("remote URL %q: unsupported scheme %q (want http or https)", raw, u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL %q must include a host", raw)
	}

	endpointURL := *u
	endpointURL.Path = strings.TrimRight(u.Path, "/")
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	name := endpointURL.Path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".git")

	return Endpoint{
		Raw:     raw,
		BaseURL: endpointURL.String(),
		Name:    name,
		user:    user,
		pass:    pass,
	}, nil
}

// InfoRefsURL is the ref discovery URL for upload-pack.
func (e Endpoint) InfoRefsURL() string {
	return e.BaseURL + "/info/refs?service=" + uploadPackService
}

// UploadPackURL is the URL pack requests are posted to.
func (e Endpoint) UploadPackURL() string {
	return e.BaseURL + "/" + uploadPackService
}

// ClientOptions configures the transport client.
type ClientOptions struct {
	Timeout     time.Duration // overall HTTP timeout; zero means none
	MaxAttempts int           // attempts for 429 and 5xx responses (default 1)
	UserAgent   string        // User-Agent header and agent capability (default "grit")
	Token       string        // bearer token; overrides basic auth

	// Progress receives side-band progress text. When nil the server is
	// asked not to send any.
	Progress io.Writer
	Logger   *slog.Logger

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Response limits per endpoint type.
const (
	responseLimitRefs  = 8 << 20 // 8MB
	responseLimitError = 4 << 10 // bytes of an error body kept for HTTPError
)

// Client speaks the stateless smart HTTP upload-pack protocol (v0).
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	userAgent   string
	maxAttempts int
	progress    io.Writer
	logger      *slog.Logger

	serverCaps Capabilities
}

// NewClient creates a client for remoteURL.
//
// Auth resolution order:
// 1) opts.Token or GRIT_TOKEN (Bearer)
// 2) GRIT_USERNAME + GRIT_PASSWORD (Basic)
// 3) URL userinfo (Basic)
func NewClient(remoteURL string, opts ClientOptions) (*Client, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "grit"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	token := strings.TrimSpace(opts.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("GRIT_TOKEN"))
	}
	user := strings.TrimSpace(os.Getenv("GRIT_USERNAME"))
	pass := os.Getenv("GRIT_PASSWORD")
	if token == "" && user == "" && endpoint.user != "" {
		user = endpoint.user
		pass = endpoint.pass
	}

	return &Client{
		endpoint:    endpoint,
		httpClient:  httpClient,
		token:       token,
		user:        user,
		pass:        pass,
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		progress:    opts.Progress,
		logger:      opts.Logger,
	}, nil
}

// Endpoint returns the parsed endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// DiscoverRefs fetches the ref advertisement. The server's capabilities are
// remembered and used to shape later pack requests.
func (c *Client) DiscoverRefs(ctx context.Context) (*Advertisement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.InfoRefsURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentTypeAdvertisement)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	adv, err := ParseAdvertisement(io.LimitReader(resp.Body, responseLimitRefs))
	if err != nil {
		return nil, fmt.Errorf("discover refs from %s: %w", c.endpoint.BaseURL, err)
	}
	c.serverCaps = adv.Capabilities
	c.logger.Debug("discovered refs",
		"url", c.endpoint.BaseURL,
		"refs", len(adv.Refs),
		"capabilities", adv.Capabilities.String())
	return adv, nil
}

// FetchPack requests a pack containing wants and everything reachable from
// them, with no haves. The returned reader yields raw pack bytes demultiplexed
// from side-band channel 1 and must be closed by the caller.
func (c *Client) FetchPack(ctx context.Context, wants ...object.Hash) (io.ReadCloser, error) {
	body, err := buildUploadPackRequest(wants, c.requestCapabilities())
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.UploadPackURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeRequest)
	req.Header.Set("Accept", contentTypeResult)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pack request accepted", "url", req.URL.String(), "wants", len(wants))
	return &sidebandReadCloser{
		SidebandReader: NewSidebandReader(resp.Body, c.progress),
		closer:         resp.Body,
	}, nil
}

// RequestPack is FetchPack with the whole pack read into memory.
func (c *Client) RequestPack(ctx context.Context, wants ...object.Hash) ([]byte, error) {
	rc, err := c.FetchPack(ctx, wants...)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// requestCapabilities picks the capabilities sent on the first want line.
// ofs-delta is never requested so the server only sends ref-deltas.
func (c *Client) requestCapabilities() []string {
	caps := []string{CapMultiAck, CapSideBand64k}
	if c.progress == nil && c.serverCaps.Has(CapNoProgress) {
		caps = append(caps, CapNoProgress)
	}
	if c.serverCaps.Has(CapAgent) {
		caps = append(caps, CapAgent+"="+c.userAgent)
	}
	return caps
}

// buildUploadPackRequest encodes want lines, a flush and "done".
func buildUploadPackRequest(wants []object.Hash, caps []string) ([]byte, error) {
	if len(wants) == 0 {
		return nil, fmt.Errorf("at least one want is required")
	}
	var buf bytes.Buffer
	pw := pktline.NewWriter(&buf)
	seen := make(map[object.Hash]struct{}, len(wants))
	for _, want := range wants {
		if _, dup := seen[want]; dup {
			continue
		}
		var err error
		if len(seen) == 0 {
			err = pw.WriteStringf("want %s %s\n", want, strings.Join(caps, " "))
		} else {
			err = pw.WriteStringf("want %s\n", want)
		}
		if err != nil {
			return nil, err
		}
		seen[want] = struct{}{}
	}
	if err := pw.Flush(); err != nil {
		return nil, err
	}
	if err := pw.WriteString("done\n"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// do sends req with auth and retries and returns the response with its body
// decoded. Non-2xx responses become *HTTPError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.applyAuth(req)
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseLimitError))
		return nil, &HTTPError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	resp.Body = body
	return resp, nil
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Body
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote request failed (%s %s): %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

type sidebandReadCloser struct {
	*SidebandReader
	closer io.Closer
}

func (s *sidebandReadCloser) Close() error {
	return s.closer.Close()
}
