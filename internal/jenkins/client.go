package jenkins

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"go.uber.org/zap"
)

// Client talks to a CloudBees operations center and its managed masters.
//
// Every request carries basic auth. POST requests also carry a crumb issued
// by the authority (operations center or managed master) that owns the
// target URL. The client performs no retries: every failure is returned to
// the caller.
type Client struct {
	baseURL    string
	ocURL      string
	username   string
	token      string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	crumb     *Crumb
	endpoints map[string]string
}

// Crumb is an anti-CSRF token issued by one authority.
type Crumb struct {
	Authority Authority `json:"-"`
	Field     string    `json:"crumbRequestField"`
	Value     string    `json:"crumb"`
}

// NewClient creates a Client from a Connection. A nil logger disables logging.
func NewClient(conn *models.Connection, logger *zap.Logger) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if conn.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(conn.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	// Crumbs are bound to the web session since Jenkins 2.176.2, so the
	// session cookie has to survive between the crumb fetch and the POST.
	jar, _ := cookiejar.New(nil)
	return newClient(conn, &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Re-apply basic auth on redirects
			if len(via) > 0 {
				req.SetBasicAuth(conn.Username, conn.Token)
			}
			return nil
		},
	}, logger)
}

func newClient(conn *models.Connection, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    conn.BaseURL(),
		ocURL:      conn.OperationsCenterURL(),
		username:   conn.Username,
		token:      conn.Token,
		httpClient: httpClient,
		logger:     logger.With(zap.String("jenkins", conn.BaseURL())),
		endpoints:  make(map[string]string),
	}
}

// OperationsCenterURL returns the operations center root URL.
func (c *Client) OperationsCenterURL() string {
	return c.ocURL
}

// Response is the raw result of a POST.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns an *APIError for a non-2xx response, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{Method: r.Method, URL: r.URL, StatusCode: r.StatusCode, Body: string(r.Body)}
}

// File is one part of a multipart POST.
type File struct {
	Name    string
	Content io.Reader
}

// PostRequest describes the payload of a POST. Files take precedence over
// Form, which takes precedence over Body.
type PostRequest struct {
	Body        []byte
	ContentType string
	Form        url.Values
	Params      url.Values
	Headers     map[string]string
	Files       map[string]File
}

// Get performs an authenticated GET request and returns the response body.
// Non-2xx responses return an *APIError carrying the body.
func (c *Client) Get(rawURL string, params url.Values) ([]byte, error) {
	resp, err := c.do(http.MethodGet, withParams(c.resolve(rawURL), params), nil, "", nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return resp.Body, err
	}
	return resp.Body, nil
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(rawURL string, params url.Values, dest interface{}) error {
	body, err := c.Get(rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parsing response from %s: %w", rawURL, err)
	}
	return nil
}

// Post performs an authenticated POST carrying the crumb of the target's
// authority. The response is returned whatever its status; only transport
// and request-building failures are errors.
func (c *Client) Post(rawURL string, pr *PostRequest) (*Response, error) {
	if pr == nil {
		pr = &PostRequest{}
	}
	target := withParams(c.resolve(rawURL), pr.Params)

	body, contentType, err := pr.encode()
	if err != nil {
		return nil, fmt.Errorf("building POST %s: %w", target, err)
	}

	crumb, err := c.crumbFor(target)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(pr.Headers)+1)
	for k, v := range pr.Headers {
		headers[k] = v
	}
	if crumb != nil {
		headers[crumb.Field] = crumb.Value
	}
	return c.do(http.MethodPost, target, body, contentType, headers)
}

// CachedCrumb returns the crumb currently held by the client, or nil.
func (c *Client) CachedCrumb() *Crumb {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb == nil {
		return nil
	}
	crumb := *c.crumb
	return &crumb
}

// crumbFor returns the crumb for the authority owning target, fetching a new
// one when none is cached or the cached one was issued by another authority.
// Authorities without a crumb issuer yield a nil crumb.
func (c *Client) crumbFor(target string) (*Crumb, error) {
	authority, err := c.AuthorityOf(target)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != nil && c.crumb.Authority == authority {
		return c.crumb, nil
	}

	var crumb Crumb
	if err := c.GetJSON(authority.CrumbIssuerURL(), nil, &crumb); err != nil || crumb.Field == "" {
		c.logger.Debug("no crumb available, posting without one",
			zap.Stringer("authority", authority), zap.Error(err))
		c.crumb = nil
		return nil, nil
	}
	crumb.Authority = authority
	c.crumb = &crumb
	c.logger.Debug("fetched crumb", zap.Stringer("authority", authority), zap.String("field", crumb.Field))
	return c.crumb, nil
}

func (c *Client) do(method, target string, body []byte, contentType string, headers map[string]string) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug("request", zap.String("method", method), zap.String("url", target), zap.Int("status", resp.StatusCode))
	return &Response{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (pr *PostRequest) encode() ([]byte, string, error) {
	switch {
	case len(pr.Files) > 0:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for field, values := range pr.Form {
			for _, v := range values {
				if err := w.WriteField(field, v); err != nil {
					return nil, "", err
				}
			}
		}
		for field, f := range pr.Files {
			part, err := w.CreateFormFile(field, f.Name)
			if err != nil {
				return nil, "", err
			}
			if f.Content != nil {
				if _, err := io.Copy(part, f.Content); err != nil {
					return nil, "", fmt.Errorf("copying %s: %w", f.Name, err)
				}
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), w.FormDataContentType(), nil
	case pr.Form != nil:
		return []byte(pr.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return pr.Body, pr.ContentType, nil
	}
}

// resolve turns a path relative to the base URL into an absolute URL.
func (c *Client) resolve(rawURL string) string {
	if strings.HasPrefix(rawURL, "/") {
		return c.baseURL + rawURL
	}
	return rawURL
}

func withParams(target string, params url.Values) string {
	if len(params) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
