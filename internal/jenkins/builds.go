package jenkins

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// Build is the subset of a build's JSON the workbench reads.
type Build struct {
	Class       string `json:"_class"`
	Number      int    `json:"number"`
	URL         string `json:"url"`
	DisplayName string `json:"displayName"`
	Result      string `json:"result"` // SUCCESS, FAILURE, ABORTED, UNSTABLE, "" while building
	Building    bool   `json:"building"`
	Duration    int64  `json:"duration"`
	Timestamp   int64  `json:"timestamp"`
	QueueID     int    `json:"queueId"`
}

// Build references accepted by GetBuild besides a number.
const (
	LastBuild           = "lastBuild"
	LastCompletedBuild  = "lastCompletedBuild"
	LastSuccessfulBuild = "lastSuccessfulBuild"
	LastFailedBuild     = "lastFailedBuild"
)

var queueLocation = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// BuildJob schedules a build and returns the id of the queue item Jenkins
// created for it. Parameters switch the call to buildWithParameters.
func (c *Client) BuildJob(masterURL, jobPath string, params map[string]string) (int, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return 0, err
	}

	var resp *Response
	if len(params) > 0 {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		resp, err = c.Post(u+"buildWithParameters", &PostRequest{Form: form})
	} else {
		resp, err = c.Post(u+"build", nil)
	}
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	return QueueItemID(resp.Header.Get("Location"))
}

// QueueItemID extracts the queue item id from a Location header of the form
// ".../queue/item/42/".
func QueueItemID(location string) (int, error) {
	m := queueLocation.FindStringSubmatch(location)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoQueueLocation, location)
	}
	return strconv.Atoi(m[1])
}

// GetBuild returns a build by number.
func (c *Client) GetBuild(masterURL, jobPath string, number int) (*Build, error) {
	return c.GetBuildRef(masterURL, jobPath, strconv.Itoa(number))
}

// GetLastBuild returns the most recent build of a job.
func (c *Client) GetLastBuild(masterURL, jobPath string) (*Build, error) {
	return c.GetBuildRef(masterURL, jobPath, LastBuild)
}

// GetBuildRef returns a build by number or permalink (lastBuild, ...).
func (c *Client) GetBuildRef(masterURL, jobPath, ref string) (*Build, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	var b Build
	if err := c.GetJSON(u+url.PathEscape(ref)+"/api/json", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetConsoleText returns the plain-text console log of a build.
func (c *Client) GetConsoleText(masterURL, jobPath string, number int) (string, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return "", err
	}
	body, err := c.Get(fmt.Sprintf("%s%d/consoleText", u, number), nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// StopBuild aborts a running build.
func (c *Client) StopBuild(masterURL, jobPath string, number int) (*Response, error) {
	u, err := c.itemURL(masterURL, jobPath)
	if err != nil {
		return nil, err
	}
	return c.Post(fmt.Sprintf("%s%d/stop", u, number), nil)
}
