package jenkins

import (
	"fmt"
	"net/url"
	"strings"
)

// Authority identifies the Jenkins instance that owns a URL: the operations
// center or one managed master. Under CloudBees CI every instance lives
// under its own first path segment, and crumbs are only valid for the
// instance that issued them.
type Authority struct {
	Root    string // scheme://host[:port] plus any base path, no trailing slash
	Segment string // first path segment below Root, "" for Root itself
}

// URL returns the authority root URL with a trailing slash.
func (a Authority) URL() string {
	if a.Segment == "" {
		return a.Root + "/"
	}
	return a.Root + "/" + a.Segment + "/"
}

// CrumbIssuerURL returns the crumb issuer endpoint of the authority.
func (a Authority) CrumbIssuerURL() string {
	return a.URL() + "crumbIssuer/api/json"
}

func (a Authority) String() string {
	return a.URL()
}

// AuthorityOf derives the authority of rawURL. URLs under the client base
// URL take the first segment after it; URLs on another host take the first
// segment after that host.
func (c *Client) AuthorityOf(rawURL string) (Authority, error) {
	abs := c.resolve(rawURL)
	u, err := url.Parse(abs)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Authority{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	root := u.Scheme + "://" + u.Host
	path := u.EscapedPath()
	if abs == c.baseURL || strings.HasPrefix(abs, c.baseURL+"/") {
		root = c.baseURL
		path = strings.TrimPrefix(abs, c.baseURL)
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
	}
	return Authority{Root: root, Segment: firstSegment(path)}, nil
}

func firstSegment(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
