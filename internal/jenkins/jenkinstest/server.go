// Package jenkinstest provides an in-memory CloudBees CI operations center
// and managed masters for tests, in the spirit of net/http/httptest.
package jenkinstest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
)

const (
	// OperationsCenter is the path segment of the fake operations center.
	OperationsCenter = "cjoc"
	// Version is reported in the X-Jenkins header.
	Version = "2.440.3.7"
	// CrumbField is the crumb header name.
	CrumbField = "Jenkins-Crumb"

	// unsafeNameChars are rejected in item names, as Jenkins does.
	unsafeNameChars = `?*/\%!@#$^&|<>[]:;`

	managedMasterClass = "com.cloudbees.opscenter.server.model.ManagedMaster"
	folderClass        = "com.cloudbees.hudson.plugins.folder.Folder"
)

// Master is one managed master of the fake.
type Master struct {
	Name string
	// Endpoint is reported by the operations center. Empty means the master
	// is still provisioning.
	Endpoint string

	jobs        map[string][]byte // job path → config.xml
	folders     map[string]bool
	builds      map[string][]*build
	queue       map[int]*queueItem
	domains     map[string]map[string][]byte // domain → credential id → config.xml
	lastParams  map[string]string
	nextQueueID int
}

type queueItem struct {
	id        int
	jobPath   string
	polls     int
	cancelled bool
	build     *build
}

type build struct {
	number int
	polls  int
	result string
}

// Server is a fake CloudBees deployment listening on a local port.
type Server struct {
	*httptest.Server

	Username string
	Token    string
	// QueuePolls is how many queue item reads return "pending" before the
	// item turns into a build.
	QueuePolls int
	// BuildPolls is how many build reads report "building".
	BuildPolls int
	// BuildResult is the result finished builds report.
	BuildResult string

	mu              sync.Mutex
	masters         map[string]*Master
	order           []string
	crumbFetches    map[string]int
	endpointFetches map[string]int
	posts           []string
}

// NewServer starts a fake with the given managed masters, all running.
func NewServer(masterNames ...string) *Server {
	s := &Server{
		Username:        "admin",
		Token:           "11token",
		BuildResult:     "SUCCESS",
		masters:         make(map[string]*Master),
		crumbFetches:    make(map[string]int),
		endpointFetches: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	for _, name := range masterNames {
		s.AddMaster(name)
	}
	return s
}

// AddMaster registers a running managed master.
func (s *Server) AddMaster(name string) *Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Master{
		Name:       name,
		Endpoint:   s.URL + "/" + name + "/",
		jobs:       make(map[string][]byte),
		folders:    make(map[string]bool),
		builds:     make(map[string][]*build),
		queue:      make(map[int]*queueItem),
		domains:    map[string]map[string][]byte{"_": {}},
		lastParams: map[string]string{},
	}
	s.masters[name] = m
	s.order = append(s.order, name)
	return m
}

// SetEndpoint changes the endpoint a master reports.
func (s *Server) SetEndpoint(master, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[master].Endpoint = endpoint
}

// PutJob stores a job config on a master.
func (s *Server) PutJob(master, jobPath string, config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[master].jobs[strings.Trim(jobPath, "/")] = config
}

// JobConfig returns the stored config of a job, nil if missing.
func (s *Server) JobConfig(master, jobPath string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masters[master].jobs[strings.Trim(jobPath, "/")]
}

// Credential returns the stored config of a credential, nil if missing.
func (s *Server) Credential(master, domain, id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masters[master].domains[domain][id]
}

// LastBuildParams returns the parameters of the last parameterized build.
func (s *Server) LastBuildParams(master string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masters[master].lastParams
}

// CrumbFetches returns how often a master's crumb issuer was called.
func (s *Server) CrumbFetches(authority string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crumbFetches[authority]
}

// EndpointFetches returns how often a master's endpoint was read.
func (s *Server) EndpointFetches(master string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpointFetches[master]
}

// Posts returns "authority path" for each accepted POST, in order.
func (s *Server) Posts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.posts))
	copy(out, s.posts)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Jenkins", Version)

	user, token, ok := r.BasicAuth()
	if ok && (user != s.Username || token != s.Token) {
		http.Error(w, "Invalid password/token for user: "+user, http.StatusUnauthorized)
		return
	}

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	authority := segs[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPost {
		if authority != OperationsCenter && r.Header.Get(CrumbField) != "crumb-"+authority {
			http.Error(w, "No valid crumb was included in the request", http.StatusForbidden)
			return
		}
		s.posts = append(s.posts, authority+" "+r.URL.Path)
	}

	if authority == OperationsCenter {
		s.handleOperationsCenter(w, r, segs[1:], ok)
		return
	}
	m, found := s.masters[authority]
	if !found || m.Endpoint == "" {
		http.NotFound(w, r)
		return
	}
	if match(segs[1:], "crumbIssuer", "api", "json") {
		s.crumbFetches[authority]++
		writeJSON(w, map[string]string{
			"_class":            "hudson.security.csrf.DefaultCrumbIssuer",
			"crumb":             "crumb-" + authority,
			"crumbRequestField": CrumbField,
		})
		return
	}
	s.handleMaster(w, r, m, segs[1:])
}

func (s *Server) handleOperationsCenter(w http.ResponseWriter, r *http.Request, segs []string, authenticated bool) {
	switch {
	case r.Method == http.MethodGet && match(segs, "api", "json"):
		jobs := []map[string]string{
			{"_class": folderClass, "name": "archive", "url": s.URL + "/cjoc/job/archive/"},
			{"_class": "com.cloudbees.opscenter.server.model.ClientMaster", "name": "legacy", "url": s.URL + "/cjoc/job/legacy/"},
		}
		for _, name := range s.order {
			jobs = append(jobs, map[string]string{
				"_class": managedMasterClass,
				"name":   name,
				"url":    s.URL + "/cjoc/job/" + name + "/",
			})
		}
		writeJSON(w, map[string]interface{}{"_class": "hudson.model.Hudson", "jobs": jobs})
	case r.Method == http.MethodGet && match(segs, "me", "api", "json"):
		id := "anonymous"
		if authenticated {
			id = s.Username
		}
		writeJSON(w, map[string]string{"id": id})
	case len(segs) == 4 && segs[0] == "job" && r.Method == http.MethodGet && match(segs[2:], "api", "json"):
		m, ok := s.masters[segs[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("tree") == "endpoint" {
			s.endpointFetches[m.Name]++
		}
		writeJSON(w, map[string]string{
			"_class":   managedMasterClass,
			"name":     m.Name,
			"endpoint": m.Endpoint,
		})
	case len(segs) == 3 && segs[0] == "job" && r.Method == http.MethodPost:
		if _, ok := s.masters[segs[1]]; !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request, m *Master, segs []string) {
	var parts []string
	for len(segs) >= 2 && segs[0] == "job" {
		parts = append(parts, segs[1])
		segs = segs[2:]
	}
	jobPath := strings.Join(parts, "/")

	if len(segs) >= 3 && segs[0] == "credentials" && segs[1] == "store" && segs[2] == "folder" {
		s.handleCredentials(w, r, m, segs[3:])
		return
	}
	if jobPath == "" && len(segs) > 0 && segs[0] == "queue" {
		s.handleQueue(w, r, m, segs[1:])
		return
	}

	switch {
	case r.Method == http.MethodGet && match(segs, "api", "json"):
		if jobPath != "" && m.jobs[jobPath] == nil && !m.folders[jobPath] {
			http.NotFound(w, r)
			return
		}
		if jobPath == "" || m.folders[jobPath] {
			writeJSON(w, map[string]interface{}{"jobs": m.children(jobPath, m.Endpoint)})
			return
		}
		writeJSON(w, m.describe(jobPath, m.Endpoint))
	case match(segs, "config.xml"):
		if m.jobs[jobPath] == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/xml")
			w.Write(m.jobs[jobPath])
			return
		}
		body, ok := readXML(w, r)
		if !ok {
			return
		}
		m.jobs[jobPath] = body
	case r.Method == http.MethodPost && match(segs, "createItem"):
		if jobPath != "" && !m.folders[jobPath] {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		name := r.Form.Get("name")
		full := strings.Trim(jobPath+"/"+name, "/")
		if i := strings.IndexAny(name, unsafeNameChars); i >= 0 {
			http.Error(w, fmt.Sprintf("Illegal character in name: %q", name[i]), http.StatusBadRequest)
			return
		}
		if name == "" || m.jobs[full] != nil || m.folders[full] {
			http.Error(w, "A job already exists with the name "+name, http.StatusBadRequest)
			return
		}
		if r.Form.Get("mode") == folderClass {
			m.folders[full] = true
			return
		}
		body, ok := readXML(w, r)
		if !ok {
			return
		}
		m.jobs[full] = body
	case r.Method == http.MethodPost && match(segs, "doDelete"):
		if m.jobs[jobPath] == nil && !m.folders[jobPath] {
			http.NotFound(w, r)
			return
		}
		delete(m.jobs, jobPath)
		delete(m.folders, jobPath)
	case r.Method == http.MethodPost && (match(segs, "enable") || match(segs, "disable")):
		if m.jobs[jobPath] == nil {
			http.NotFound(w, r)
			return
		}
	case r.Method == http.MethodPost && (match(segs, "build") || match(segs, "buildWithParameters")):
		if m.jobs[jobPath] == nil {
			http.NotFound(w, r)
			return
		}
		if segs[0] == "buildWithParameters" {
			r.ParseForm()
			m.lastParams = map[string]string{}
			for k := range r.PostForm {
				m.lastParams[k] = r.PostForm.Get(k)
			}
		}
		m.nextQueueID++
		m.queue[m.nextQueueID] = &queueItem{id: m.nextQueueID, jobPath: jobPath, polls: s.QueuePolls}
		w.Header().Set("Location", fmt.Sprintf("%squeue/item/%d/", m.Endpoint, m.nextQueueID))
		w.WriteHeader(http.StatusCreated)
	case len(segs) == 3 && r.Method == http.MethodGet && match(segs[1:], "api", "json"):
		b := m.findBuild(jobPath, segs[0])
		if b == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, s.describeBuild(m, jobPath, b))
	case len(segs) == 2 && r.Method == http.MethodGet && segs[1] == "consoleText":
		b := m.findBuild(jobPath, segs[0])
		if b == nil {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "Started by user %s\nFinished: %s\n", s.Username, s.BuildResult)
	case len(segs) == 2 && r.Method == http.MethodPost && segs[1] == "stop":
		b := m.findBuild(jobPath, segs[0])
		if b == nil {
			http.NotFound(w, r)
			return
		}
		b.polls = 0
		b.result = "ABORTED"
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request, m *Master, segs []string) {
	switch {
	case r.Method == http.MethodGet && match(segs, "api", "json"):
		items := []map[string]interface{}{}
		ids := make([]int, 0, len(m.queue))
		for id := range m.queue {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			if q := m.queue[id]; q.build == nil && !q.cancelled {
				items = append(items, m.describeQueueItem(q))
			}
		}
		writeJSON(w, map[string]interface{}{"items": items})
	case r.Method == http.MethodGet && len(segs) == 4 && segs[0] == "item" && match(segs[2:], "api", "json"):
		id, _ := strconv.Atoi(segs[1])
		q, ok := m.queue[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if q.build == nil && !q.cancelled {
			if q.polls > 0 {
				q.polls--
			} else {
				q.build = &build{number: len(m.builds[q.jobPath]) + 1, polls: s.BuildPolls}
				m.builds[q.jobPath] = append(m.builds[q.jobPath], q.build)
			}
		}
		writeJSON(w, m.describeQueueItem(q))
	case r.Method == http.MethodPost && match(segs, "cancelItem"):
		id, _ := strconv.Atoi(r.URL.Query().Get("id"))
		if q, ok := m.queue[id]; ok && q.build == nil {
			q.cancelled = true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request, m *Master, segs []string) {
	switch {
	case r.Method == http.MethodGet && match(segs, "api", "json"):
		domains := map[string]interface{}{}
		for name, creds := range m.domains {
			domains[name] = map[string]interface{}{"_class": "com.cloudbees.plugins.credentials.CredentialsStoreAction$DomainWrapper", "credentials": credentialList(creds)}
		}
		writeJSON(w, map[string]interface{}{"domains": domains})
	case r.Method == http.MethodPost && match(segs, "createDomain"):
		body, ok := readXML(w, r)
		if !ok {
			return
		}
		doc, _ := xmldict.Parse(body)
		name, _ := doc.Path("com.cloudbees.plugins.credentials.domains.Domain/name")
		domain, _ := name.(string)
		if domain == "" || m.domains[domain] != nil {
			http.Error(w, "invalid or duplicate domain", http.StatusConflict)
			return
		}
		m.domains[domain] = map[string][]byte{}
	case len(segs) >= 2 && segs[0] == "domain":
		creds, ok := m.domains[segs[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.handleDomain(w, r, m, segs[1], creds, segs[2:])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request, m *Master, domain string, creds map[string][]byte, segs []string) {
	switch {
	case r.Method == http.MethodGet && match(segs, "api", "json"):
		writeJSON(w, map[string]interface{}{"credentials": credentialList(creds)})
	case r.Method == http.MethodPost && match(segs, "doDelete"):
		if domain == "_" {
			http.Error(w, "cannot delete the global domain", http.StatusBadRequest)
			return
		}
		delete(m.domains, domain)
	case r.Method == http.MethodPost && match(segs, "createCredentials"):
		id, body, ok := readCredential(w, r)
		if !ok {
			return
		}
		if creds[id] != nil {
			http.Error(w, "duplicate credential id "+id, http.StatusConflict)
			return
		}
		creds[id] = body
	case len(segs) == 3 && segs[0] == "credential":
		id := segs[1]
		if creds[id] == nil {
			http.NotFound(w, r)
			return
		}
		switch {
		case r.Method == http.MethodGet && segs[2] == "config.xml":
			w.Write(creds[id])
		case r.Method == http.MethodPost && segs[2] == "config.xml":
			body, ok := readXML(w, r)
			if !ok {
				return
			}
			creds[id] = body
		case r.Method == http.MethodPost && segs[2] == "doDelete":
			delete(creds, id)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func readCredential(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return "", nil, false
		}
		var payload struct {
			Credentials map[string]string `json:"credentials"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("json")), &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return "", nil, false
		}
		file, header, err := r.FormFile(payload.Credentials["file"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return "", nil, false
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		id := payload.Credentials["id"]
		doc := xmldict.New().Set(payload.Credentials["$class"], xmldict.New().
			Set("id", id).
			Set("description", payload.Credentials["description"]).
			Set("fileName", header.Filename).
			Set("secretBytes", string(content)))
		out, _ := xmldict.Marshal(doc)
		return id, out, true
	}
	body, ok := readXML(w, r)
	if !ok {
		return "", nil, false
	}
	doc, _ := xmldict.Parse(body)
	_, root, _ := doc.Root()
	rootDict, _ := root.(*xmldict.Dict)
	id := rootDict.String("id")
	if id == "" {
		http.Error(w, "credential has no id", http.StatusBadRequest)
		return "", nil, false
	}
	return id, body, true
}

// readXML reads a request body and rejects anything that is not a single
// well-formed XML document.
func readXML(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if _, err := xmldict.Parse(body); err != nil {
		http.Error(w, "malformed XML: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func credentialList(creds map[string][]byte) []map[string]string {
	ids := make([]string, 0, len(creds))
	for id := range creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []map[string]string{}
	for _, id := range ids {
		out = append(out, map[string]string{"id": id, "displayName": id})
	}
	return out
}

func (m *Master) children(folder, root string) []map[string]string {
	prefix := ""
	if folder != "" {
		prefix = folder + "/"
	}
	seen := map[string]string{}
	add := func(path, class string) {
		if !strings.HasPrefix(path, prefix) {
			return
		}
		rest := strings.TrimPrefix(path, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			return
		}
		seen[rest] = class
	}
	for path := range m.jobs {
		add(path, "hudson.model.FreeStyleProject")
	}
	for path := range m.folders {
		add(path, folderClass)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	out := []map[string]string{}
	for _, name := range names {
		out = append(out, map[string]string{
			"_class":   seen[name],
			"name":     name,
			"fullName": prefix + name,
			"url":      jobURL(root, prefix+name),
			"color":    "blue",
		})
	}
	return out
}

func (m *Master) describe(jobPath, root string) map[string]interface{} {
	parts := strings.Split(jobPath, "/")
	desc := map[string]interface{}{
		"_class":   "hudson.model.FreeStyleProject",
		"name":     parts[len(parts)-1],
		"fullName": jobPath,
		"url":      jobURL(root, jobPath),
		"color":    "blue",
	}
	if builds := m.builds[jobPath]; len(builds) > 0 {
		desc["lastBuild"] = map[string]interface{}{"number": builds[len(builds)-1].number}
	}
	return desc
}

func (m *Master) findBuild(jobPath, ref string) *build {
	builds := m.builds[jobPath]
	if len(builds) == 0 {
		return nil
	}
	if ref == "lastBuild" {
		return builds[len(builds)-1]
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(builds) {
		return nil
	}
	return builds[n-1]
}

func (s *Server) describeBuild(m *Master, jobPath string, b *build) map[string]interface{} {
	building := b.polls > 0
	if building {
		b.polls--
	} else if b.result == "" {
		b.result = s.BuildResult
	}
	var result interface{}
	if !building {
		result = b.result
	}
	return map[string]interface{}{
		"_class":   "hudson.model.FreeStyleBuild",
		"number":   b.number,
		"url":      fmt.Sprintf("%s%d/", jobURL(m.Endpoint, jobPath), b.number),
		"building": building,
		"result":   result,
	}
}

func (m *Master) describeQueueItem(q *queueItem) map[string]interface{} {
	item := map[string]interface{}{
		"_class":    "hudson.model.Queue$WaitingItem",
		"id":        q.id,
		"cancelled": q.cancelled,
		"task":      map[string]string{"name": q.jobPath, "url": jobURL(m.Endpoint, q.jobPath)},
	}
	switch {
	case q.build != nil:
		item["_class"] = "hudson.model.Queue$LeftItem"
		item["executable"] = map[string]interface{}{
			"number": q.build.number,
			"url":    fmt.Sprintf("%s%d/", jobURL(m.Endpoint, q.jobPath), q.build.number),
		}
	case q.cancelled:
		item["_class"] = "hudson.model.Queue$LeftItem"
	default:
		item["why"] = "Waiting for next available executor"
	}
	return item
}

func jobURL(root, jobPath string) string {
	u := root
	for _, p := range strings.Split(jobPath, "/") {
		u += "job/" + p + "/"
	}
	return u
}

func match(segs []string, want ...string) bool {
	if len(segs) != len(want) {
		return false
	}
	for i := range want {
		if segs[i] != want[i] {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
