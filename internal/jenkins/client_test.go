package jenkins

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rflorenc/jenkins-workbench/internal/jenkins/jenkinstest"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(ts *httptest.Server) *Client {
	return newClient(&models.Connection{
		URL:              ts.URL,
		OperationsCenter: "cjoc",
		Username:         "admin",
		Token:            "secret",
	}, ts.Client(), nil)
}

// newFakeClient returns a client for a jenkinstest server and the URL of
// its first managed master.
func newFakeClient(t *testing.T, masters ...string) (*Client, *jenkinstest.Server) {
	t.Helper()
	srv := jenkinstest.NewServer(masters...)
	t.Cleanup(srv.Close)
	conn := &models.Connection{
		URL:              srv.URL,
		OperationsCenter: jenkinstest.OperationsCenter,
		Username:         srv.Username,
		Token:            srv.Token,
	}
	return newClient(conn, srv.Client(), nil), srv
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"mode":"NORMAL"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get("/cjoc/api/json", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `{"mode":"NORMAL"}` {
		t.Errorf("body = %q, want {\"mode\":\"NORMAL\"}", string(body))
	}
}

func TestClient_Get_AuthHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("BasicAuth = (%q, %q, %v), want (admin, secret, true)", user, pass, ok)
		}
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.Get("/cjoc/api/json", nil); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestClient_Get_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html>Not Found</html>"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get("/cjoc/job/missing/api/json", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsForbidden(err))
	assert.Equal(t, "<html>Not Found</html>", string(body))
}

func TestClient_GetJSON_Params(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jobs[name]", r.URL.Query().Get("tree"))
		w.Write([]byte(`{"jobs":[{"name":"a"}]}`))
	}))
	defer ts.Close()

	var resp struct {
		Jobs []struct{ Name string } `json:"jobs"`
	}
	c := newTestClient(ts)
	require.NoError(t, c.GetJSON("/cjoc/api/json", url.Values{"tree": {"jobs[name]"}}, &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "a", resp.Jobs[0].Name)
}

func TestClient_GetJSON_Invalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login</html>"))
	}))
	defer ts.Close()

	var v map[string]interface{}
	err := newTestClient(ts).GetJSON("/cjoc/api/json", nil, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing response")
}

func TestClient_Post_ReturnsErrorStatusAsResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/crumbIssuer/api/json") {
			w.Write([]byte(`{"crumb":"abc","crumbRequestField":"Jenkins-Crumb"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("A job already exists with the name app"))
	}))
	defer ts.Close()

	resp, err := newTestClient(ts).Post("/team-a/createItem", &PostRequest{Params: url.Values{"name": {"app"}}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.True(t, IsConflict(resp.Err()))
	assert.Contains(t, resp.URL, "?name=app")
}

func TestClient_Post_Form(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "v1", r.PostForm.Get("VERSION"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts).Post("/team-a/job/app/buildWithParameters", &PostRequest{
		Form: url.Values{"VERSION": {"v1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestClient_Post_Multipart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		parts := map[string]string{}
		for {
			p, err := mr.NextPart()
			if err != nil {
				assert.ErrorIs(t, err, io.EOF)
				break
			}
			data, _ := io.ReadAll(p)
			parts[p.FormName()] = string(data)
			if p.FormName() == "file0" {
				assert.Equal(t, "id_rsa", p.FileName())
			}
		}
		assert.Equal(t, map[string]string{"json": `{"a":1}`, "file0": "KEY"}, parts)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts).Post("/team-a/credentials/store/folder/domain/_/createCredentials", &PostRequest{
		Form:  url.Values{"json": {`{"a":1}`}},
		Files: map[string]File{"file0": {Name: "id_rsa", Content: strings.NewReader("KEY")}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestClient_Post_RawBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		assert.Equal(t, "<project/>", string(body))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Post("/team-a/job/app/config.xml", &PostRequest{
		Body:        []byte("<project/>"),
		ContentType: "application/xml",
		Headers:     map[string]string{"X-Extra": "yes"},
	})
	require.NoError(t, err)
}

func TestClient_Post_InvalidURL(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := newTestClient(ts).Post("ftp://example.com/x", nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer than ten", 10, "this is lo..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestAPIError_TruncatesBody(t *testing.T) {
	err := &APIError{Method: "GET", URL: "http://x/", StatusCode: 500, Body: strings.Repeat("x", 500)}
	assert.Len(t, err.Error(), len("GET http://x/: HTTP 500: ")+200+len("..."))
}

func TestNewClient(t *testing.T) {
	conn := &models.Connection{
		URL:              "https://jenkins.example.com/",
		OperationsCenter: "cjoc",
		Username:         "admin",
		Token:            "pass",
		Insecure:         true,
	}
	c := NewClient(conn, nil)
	if c.baseURL != "https://jenkins.example.com" {
		t.Errorf("baseURL = %q, want https://jenkins.example.com", c.baseURL)
	}
	if c.OperationsCenterURL() != "https://jenkins.example.com/cjoc/" {
		t.Errorf("OperationsCenterURL() = %q", c.OperationsCenterURL())
	}
	if c.httpClient.Jar == nil {
		t.Error("client has no cookie jar")
	}
	if c.CachedCrumb() != nil {
		t.Error("new client already holds a crumb")
	}
}
