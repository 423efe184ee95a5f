package jenkins

import (
	"fmt"
	"net/url"
	"strconv"
)

// QueueItem is a pending or resolved build request.
type QueueItem struct {
	Class        string           `json:"_class"`
	ID           int              `json:"id"`
	Why          string           `json:"why"`
	Blocked      bool             `json:"blocked"`
	Buildable    bool             `json:"buildable"`
	Stuck        bool             `json:"stuck"`
	Cancelled    bool             `json:"cancelled"`
	InQueueSince int64            `json:"inQueueSince"`
	Task         QueueTask        `json:"task"`
	Executable   *QueueExecutable `json:"executable"`
}

// QueueTask is the job a queue item belongs to.
type QueueTask struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// QueueExecutable is the build a queue item turned into.
type QueueExecutable struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Pending reports whether the item is still waiting for an executor.
func (q *QueueItem) Pending() bool {
	return q.Executable == nil && !q.Cancelled
}

// GetQueueItem fetches a queue item once. Callers own any polling.
func (c *Client) GetQueueItem(masterURL string, id int) (*QueueItem, error) {
	endpoint, err := c.GetManagedMasterEndpoint(masterURL)
	if err != nil {
		return nil, err
	}
	var item QueueItem
	if err := c.GetJSON(fmt.Sprintf("%squeue/item/%d/api/json", endpoint, id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListQueue returns the items currently waiting in a master's queue.
func (c *Client) ListQueue(masterURL string) ([]QueueItem, error) {
	endpoint, err := c.GetManagedMasterEndpoint(masterURL)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []QueueItem `json:"items"`
	}
	if err := c.GetJSON(endpoint+"queue/api/json", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CancelQueueItem removes an item from a master's queue.
func (c *Client) CancelQueueItem(masterURL string, id int) (*Response, error) {
	endpoint, err := c.GetManagedMasterEndpoint(masterURL)
	if err != nil {
		return nil, err
	}
	return c.Post(endpoint+"queue/cancelItem", &PostRequest{
		Params: url.Values{"id": {strconv.Itoa(id)}},
	})
}
