package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins/jenkinstest"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	t       *testing.T
	server  *Server
	ts      *httptest.Server
	jenkins *jenkinstest.Server
	conn    *models.Connection
}

func newHarness(t *testing.T, masters ...string) *harness {
	t.Helper()
	fake := jenkinstest.NewServer(masters...)
	t.Cleanup(fake.Close)

	s := &Server{
		Connections:  models.NewConnectionStore(),
		Jobs:         models.NewJobStore(),
		PollInterval: time.Millisecond,
	}
	conn := &models.Connection{
		Name:             "lab",
		URL:              fake.URL,
		OperationsCenter: jenkinstest.OperationsCenter,
		Username:         fake.Username,
		Token:            fake.Token,
	}
	s.Connections.Create(conn)

	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(ts.Close)
	return &harness{t: t, server: s, ts: ts, jenkins: fake, conn: conn}
}

// do sends a request with an optional JSON body and decodes a JSON response
// into out when out is not nil.
func (h *harness) do(method, path string, body interface{}, out interface{}) int {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) masterPath(master string) string {
	return "/api/connections/" + h.conn.ID + "/masters/" + master
}

// waitJob waits for an async job to finish and returns it as JSON.
func (h *harness) waitJob(id string) map[string]interface{} {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		job := h.server.Jobs.Get(id)
		return job != nil && job.Done()
	}, 5*time.Second, 5*time.Millisecond)

	var job map[string]interface{}
	require.Equal(h.t, http.StatusOK, h.do("GET", "/api/jobs/"+id, nil, &job))
	return job
}

func TestConnections_CRUD(t *testing.T) {
	h := newHarness(t)

	var created map[string]interface{}
	status := h.do("POST", "/api/connections", map[string]interface{}{
		"name":     "prod",
		"url":      "https://ci.example.com",
		"username": "admin",
		"token":    "t0ken",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, "cjoc", created["operations_center"])
	assert.NotEqual(t, "t0ken", created["token"])

	var list []map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", "/api/connections", nil, &list))
	assert.Len(t, list, 2)

	var updated map[string]interface{}
	status = h.do("PUT", "/api/connections/"+id, map[string]interface{}{
		"name":  "prod-renamed",
		"url":   "https://ci.example.com",
		"token": created["token"],
	}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "prod-renamed", updated["name"])
	assert.Equal(t, "t0ken", h.server.Connections.Get(id).Token)

	var got map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", "/api/connections/"+id, nil, &got))
	assert.Equal(t, "prod-renamed", got["name"])

	assert.Equal(t, http.StatusNoContent, h.do("DELETE", "/api/connections/"+id, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("DELETE", "/api/connections/"+id, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/connections/"+id, nil, nil))
}

func TestConnections_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []map[string]interface{}{
		{"name": "no-url"},
		{"url": "https://ci.example.com"},
		{"name": "bad-url", "url": "not a url"},
	}
	for _, body := range tests {
		var resp map[string]string
		assert.Equal(t, http.StatusBadRequest, h.do("POST", "/api/connections", body, &resp), body)
		assert.NotEmpty(t, resp["error"])
	}
}

func TestTestConnection(t *testing.T) {
	h := newHarness(t)

	var resp map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("POST", "/api/connections/"+h.conn.ID+"/test", nil, &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, jenkinstest.Version, resp["version"])
	assert.Equal(t, "ok", h.server.Connections.Get(h.conn.ID).AuthStatus)
}

func TestMasters(t *testing.T) {
	h := newHarness(t, "team-a", "booting")
	h.jenkins.SetEndpoint("booting", "")

	var masters []map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", "/api/connections/"+h.conn.ID+"/masters", nil, &masters))
	require.Len(t, masters, 2)
	assert.Equal(t, "team-a", masters[0]["name"])

	var master map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("team-a"), nil, &master))
	assert.Equal(t, true, master["ready"])
	assert.Equal(t, h.jenkins.URL+"/team-a/", master["endpoint"])

	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("booting"), nil, &master))
	assert.Equal(t, false, master["ready"])

	assert.Equal(t, http.StatusServiceUnavailable, h.do("GET", h.masterPath("booting")+"/jobs", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("GET", h.masterPath("nope"), nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/connections/nope/masters", nil, nil))
}

func TestMasterAction(t *testing.T) {
	h := newHarness(t, "team-a")

	assert.Equal(t, http.StatusAccepted, h.do("POST", h.masterPath("team-a")+"/actions/restartAction", nil, nil))
	assert.Equal(t, http.StatusBadRequest, h.do("POST", h.masterPath("team-a")+"/actions/selfDestruct", nil, nil))
}

func TestJobConfig_GetPut(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.PutJob("team-a", "team/app", []byte(`<?xml version='1.1' encoding='UTF-8'?>
<project><description>before</description><disabled>false</disabled></project>`))

	var jobs []map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("team-a")+"/jobs?folder=team", nil, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "app", jobs[0]["name"])

	var config map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("team-a")+"/config?job=team/app", nil, &config))
	project := config["project"].(map[string]interface{})
	assert.Equal(t, "before", project["description"])

	body := `{"project":{"description":"after","disabled":"true"}}`
	req, err := http.NewRequest("PUT", h.ts.URL+h.masterPath("team-a")+"/config?job=team/app", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(h.jenkins.JobConfig("team-a", "team/app")), "<description>after</description>")

	resp, err = http.Get(h.ts.URL + h.masterPath("team-a") + "/config?job=team/app&format=xml")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(raw), "<?xml version='1.1' encoding='UTF-8'?>"))

	assert.Equal(t, http.StatusBadRequest, h.do("GET", h.masterPath("team-a")+"/config", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("GET", h.masterPath("team-a")+"/config?job=nope", nil, nil))
}

func TestJobConfig_PutXML(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	req, err := http.NewRequest("PUT", h.ts.URL+h.masterPath("team-a")+"/config?job=app",
		strings.NewReader(`<project><description>xml body</description></project>`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(h.jenkins.JobConfig("team-a", "app")), "xml body")

	req, _ = http.NewRequest("PUT", h.ts.URL+h.masterPath("team-a")+"/config?job=app", strings.NewReader(`<project>`))
	req.Header.Set("Content-Type", "application/xml")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunBuild(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.QueuePolls = 1
	h.jenkins.BuildPolls = 1
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var accepted map[string]string
	status := h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{
		"job":        "app",
		"parameters": map[string]string{"BRANCH": "main"},
		"show_log":   true,
	}, &accepted)
	require.Equal(t, http.StatusAccepted, status)

	job := h.waitJob(accepted["job_id"])
	assert.Equal(t, models.JobCompleted, job["status"])
	assert.Equal(t, "build", job["type"])
	result := job["result"].(map[string]interface{})
	assert.Equal(t, "SUCCESS", result["result"])
	assert.Contains(t, job["output"], "Build app #1 finished: SUCCESS")

	var item map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("team-a")+"/queue/1", nil, &item))
	assert.Equal(t, float64(1), item["id"])
	assert.Equal(t, http.StatusBadRequest, h.do("GET", h.masterPath("team-a")+"/queue/abc", nil, nil))
}

func TestRunBuild_Failure(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.BuildResult = "UNSTABLE"
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{"job": "app"}, &accepted))

	job := h.waitJob(accepted["job_id"])
	assert.Equal(t, models.JobFailed, job["status"])
	assert.Contains(t, job["error"], "UNSTABLE")

	assert.Equal(t, http.StatusBadRequest, h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{}, nil))
}

func TestCancelJob(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.QueuePolls = 1 << 20
	h.server.PollInterval = 20 * time.Millisecond
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{"job": "app"}, &accepted))
	id := accepted["job_id"]

	require.Equal(t, http.StatusOK, h.do("POST", "/api/jobs/"+id+"/cancel", nil, nil))
	job := h.waitJob(id)
	assert.Equal(t, models.JobCancelled, job["status"])
	assert.Equal(t, http.StatusConflict, h.do("POST", "/api/jobs/"+id+"/cancel", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do("POST", "/api/jobs/nope/cancel", nil, nil))

	// Let the build goroutine observe the cancellation and withdraw the
	// queue item before the fake goes away.
	require.Eventually(t, func() bool {
		for _, p := range h.jenkins.Posts() {
			if strings.HasSuffix(p, "/queue/cancelItem") {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRunInventory(t *testing.T) {
	h := newHarness(t, "team-a", "booting")
	h.jenkins.SetEndpoint("booting", "")
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", "/api/connections/"+h.conn.ID+"/inventory?jobs=true", nil, &accepted))

	job := h.waitJob(accepted["job_id"])
	assert.Equal(t, models.JobCompleted, job["status"])
	masters := job["result"].(map[string]interface{})["masters"].([]interface{})
	require.Len(t, masters, 2)
	assert.Equal(t, true, masters[0].(map[string]interface{})["ready"])
	assert.Equal(t, false, masters[1].(map[string]interface{})["ready"])

	var jobs []map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", "/api/jobs", nil, &jobs))
	assert.Len(t, jobs, 1)
}

func TestRunCopyJob(t *testing.T) {
	h := newHarness(t, "team-a", "team-b")
	h.jenkins.PutJob("team-a", "app", []byte(`<project><disabled>false</disabled></project>`))

	var accepted map[string]string
	status := h.do("POST", "/api/copy-job", map[string]interface{}{
		"connection_id": h.conn.ID,
		"source_master": "team-a",
		"dest_master":   "team-b",
		"jobs":          []string{"app"},
		"disable":       true,
	}, &accepted)
	require.Equal(t, http.StatusAccepted, status)

	job := h.waitJob(accepted["job_id"])
	assert.Equal(t, models.JobCompleted, job["status"])
	assert.Contains(t, string(h.jenkins.JobConfig("team-b", "app")), "<disabled>true</disabled>")

	assert.Equal(t, http.StatusBadRequest, h.do("POST", "/api/copy-job", map[string]interface{}{
		"connection_id": h.conn.ID,
		"source_master": "team-a",
		"dest_master":   "team-b",
	}, nil))
	assert.Equal(t, http.StatusNotFound, h.do("POST", "/api/copy-job", map[string]interface{}{
		"connection_id": "nope",
		"source_master": "team-a",
		"dest_master":   "team-b",
		"jobs":          []string{"app"},
	}, nil))
}

func TestListCredentials(t *testing.T) {
	h := newHarness(t, "team-a")

	var creds []map[string]interface{}
	require.Equal(t, http.StatusOK, h.do("GET", h.masterPath("team-a")+"/credentials", nil, &creds))
	assert.Empty(t, creds)
	assert.Equal(t, http.StatusNotFound, h.do("GET", h.masterPath("team-a")+"/credentials?domain=nope", nil, nil))
}

func TestStreamJobLogs(t *testing.T) {
	h := newHarness(t, "team-a")

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", "/api/connections/"+h.conn.ID+"/inventory", nil, &accepted))
	h.waitJob(accepted["job_id"])

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/jobs/" + accepted["job_id"] + "/logs"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var lines []string
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			assert.Equal(t, models.JobCompleted, closeErr.Text)
			break
		}
		lines = append(lines, string(msg))
	}
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "Inventory of lab")
}

func TestListJobs_Filters(t *testing.T) {
	h := newHarness(t, "team-a", "team-b")
	h.jenkins.BuildResult = "FAILURE"
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var build, inventory map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{"job": "app"}, &build))
	require.Equal(t, http.StatusAccepted, h.do("POST", "/api/connections/"+h.conn.ID+"/inventory", nil, &inventory))
	h.waitJob(build["job_id"])
	h.waitJob(inventory["job_id"])

	ids := func(query string) []string {
		var jobs []map[string]interface{}
		require.Equal(t, http.StatusOK, h.do("GET", "/api/jobs"+query, nil, &jobs))
		out := []string{}
		for _, j := range jobs {
			out = append(out, j["id"].(string))
		}
		return out
	}
	assert.Len(t, ids(""), 2)
	assert.Equal(t, []string{build["job_id"]}, ids("?type=build"))
	assert.Equal(t, []string{inventory["job_id"]}, ids("?status=completed"))
	assert.Equal(t, []string{build["job_id"]}, ids("?status=failed&connection_id="+h.conn.ID))
	assert.Empty(t, ids("?connection_id=nope"))
}

func TestStreamJobLogs_FailedJob(t *testing.T) {
	h := newHarness(t, "team-a")
	h.jenkins.BuildResult = "FAILURE"
	h.jenkins.PutJob("team-a", "app", []byte(`<project/>`))

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, h.do("POST", h.masterPath("team-a")+"/builds", map[string]interface{}{"job": "app"}, &accepted))
	h.waitJob(accepted["job_id"])

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/jobs/" + accepted["job_id"] + "/logs"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.True(t, strings.HasPrefix(closeErr.Text, models.JobFailed+": "), closeErr.Text)
		assert.Contains(t, closeErr.Text, "FAILURE")
		assert.LessOrEqual(t, len(closeErr.Text), 123)
		break
	}
}

func TestStreamJobLogs_UnknownJob(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/ws/jobs/nope/logs", nil, nil))
}
