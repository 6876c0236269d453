package ragmetrics

import (
	"context"
	"errors"
	"net/url"
	"strconv"
)

const (
	datasetSavePath     = "/api/client/dataset/save/"
	datasetDownloadPath = "/api/client/dataset/download/"
)

// ErrNoBackend is returned by backend operations on a client constructed with
// LoggingOff, which never opens a connection.
var ErrNoBackend = errors.New("ragmetrics: client has no backend connection")

// Example pairs a question with the retrieval context and answer it should
// produce. Datasets of examples drive evaluation runs on the backend.
type Example struct {
	Question           string `json:"question"`
	GroundTruthContext string `json:"ground_truth_context"`
	GroundTruthAnswer  string `json:"ground_truth_answer"`
}

// Dataset is a named collection of evaluation examples stored on the backend.
type Dataset struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Examples []Example `json:"examples"`
}

// SaveDataset uploads ds and fills in its backend-assigned ID.
func (c *Client) SaveDataset(ctx context.Context, ds *Dataset) error {
	if c.transport == nil {
		return ErrNoBackend
	}
	payload := map[string]any{
		"datasetName":   ds.Name,
		"datasetSource": "DM",
		"examples":      ds.Examples,
		"datasetQty":    len(ds.Examples),
	}
	var resp struct {
		Dataset struct {
			ID int `json:"id"`
		} `json:"dataset"`
	}
	if err := c.transport.PostJSON(ctx, datasetSavePath, payload, &resp); err != nil {
		return err
	}
	ds.ID = resp.Dataset.ID
	return nil
}

// DownloadDataset fetches a stored dataset. A numeric ref is treated as the
// dataset ID, anything else as its name.
func (c *Client) DownloadDataset(ctx context.Context, ref string) (*Dataset, error) {
	if c.transport == nil {
		return nil, ErrNoBackend
	}
	q := url.Values{}
	if _, err := strconv.Atoi(ref); err == nil {
		q.Set("id", ref)
	} else {
		q.Set("name", ref)
	}
	var resp struct {
		Dataset Dataset `json:"dataset"`
	}
	if err := c.transport.GetJSON(ctx, datasetDownloadPath, q, &resp); err != nil {
		return nil, err
	}
	return &resp.Dataset, nil
}
