package jenkins

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rflorenc/jenkins-workbench/internal/models"
	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
)

// FolderClass is the item mode createItem uses for CloudBees folders.
const FolderClass = "com.cloudbees.hudson.plugins.folder.Folder"

// JobURL maps a slash-separated item path ("team/app/build") below a
// Jenkins root onto its URL (".../job/team/job/app/job/build/").
func JobURL(root, jobPath string) string {
	var b strings.Builder
	b.WriteString(withSlash(root))
	for _, seg := range strings.Split(jobPath, "/") {
		if seg == "" {
			continue
		}
		b.WriteString("job/")
		b.WriteString(url.PathEscape(seg))
		b.WriteByte('/')
	}
	return b.String()
}

// itemURL resolves a job path on a managed master, going through its endpoint.
func (c *Client) itemURL(masterURL, jobPath string) (string, error) {
	endpoint, err := c.GetManagedMasterEndpoint(masterURL)
	if err != nil {
		return "", err
	}
	return JobURL(endpoint, jobPath), nil
}

// ListJobs lists the items of a folder on a managed master. An empty folder
// path lists the master root.
func (c *Client) ListJobs(masterURL, folderPath string) ([]models.Resource, error) {
	u, err := c.itemURL(masterURL, folderPath)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Jobs []models.Resource `json:"jobs"`
	}
	params := url.Values{"tree": {"jobs[_class,name,url,color,fullName]"}}
	if err := c.GetJSON(u+"api/json", params, &resp); err != nil {
		return nil, err
	}
	if resp.Jobs == nil {
		resp.Jobs = []models.Resource{}
	}
	return resp.Jobs, nil
}

// GetJob returns the JSON description of a job.
func (c *Client) GetJob(masterURL, jobPath string) (models.Resource, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	var res models.Resource
	if err := c.GetJSON(u+"api/json", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetJobConfigXML returns the raw config.xml of a job.
func (c *Client) GetJobConfigXML(masterURL, jobPath string) ([]byte, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	return c.Get(u+"config.xml", nil)
}

// GetJobConfig returns the config.xml of a job as a Dict.
func (c *Client) GetJobConfig(masterURL, jobPath string) (*xmldict.Dict, error) {
	data, err := c.GetJobConfigXML(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	return xmldict.Parse(data)
}

// CreateJob creates a job named name inside folderPath from a config Dict.
func (c *Client) CreateJob(masterURL, folderPath, name string, config *xmldict.Dict) (*Response, error) {
	u, err := c.itemURL(masterURL, folderPath)
	if err != nil {
		return nil, err
	}
	return c.postXML(u+"createItem", url.Values{"name": {name}}, config)
}

// UpdateJobConfig replaces the config.xml of an existing job.
func (c *Client) UpdateJobConfig(masterURL, jobPath string, config *xmldict.Dict) (*Response, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	return c.postXML(u+"config.xml", nil, config)
}

// CreateFolder creates a folder named name inside parentPath.
func (c *Client) CreateFolder(masterURL, parentPath, name string) (*Response, error) {
	u, err := c.itemURL(masterURL, parentPath)
	if err != nil {
		return nil, err
	}
	return c.Post(u+"createItem", &PostRequest{
		Form: url.Values{"name": {name}, "mode": {FolderClass}},
	})
}

// DeleteJob deletes a job or folder.
func (c *Client) DeleteJob(masterURL, jobPath string) (*Response, error) {
	return c.jobAction(masterURL, jobPath, "doDelete")
}

// EnableJob enables a disabled job.
func (c *Client) EnableJob(masterURL, jobPath string) (*Response, error) {
	return c.jobAction(masterURL, jobPath, "enable")
}

// DisableJob disables a job.
func (c *Client) DisableJob(masterURL, jobPath string) (*Response, error) {
	return c.jobAction(masterURL, jobPath, "disable")
}

func (c *Client) jobAction(masterURL, jobPath, action string) (*Response, error) {
	if strings.Trim(jobPath, "/") == "" {
		return nil, fmt.Errorf("%s needs a job path", action)
	}
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	return c.Post(u+action, nil)
}

// postXML marshals config and posts it as application/xml.
func (c *Client) postXML(target string, params url.Values, config *xmldict.Dict) (*Response, error) {
	body, err := xmldict.Marshal(config)
	if err != nil {
		return nil, err
	}
	return c.Post(target, &PostRequest{
		Body:        body,
		ContentType: "application/xml",
		Params:      params,
	})
}
