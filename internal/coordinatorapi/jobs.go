package coordinatorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// fetchSourceOptions are the query parameters accepted by the build-source
// endpoint. Offset lets a retried fetch resume a partially-downloaded
// tarball instead of restarting it.
type fetchSourceOptions struct {
	Offset int64 `url:"offset,omitempty"`
}

// PopBuildJob dequeues the next build job for (username, queue, workerID).
// A JobDescriptor with HasJob() == false means the queue was empty.
// ErrNotFound means the coordinator no longer recognizes this worker.
func (c *Client) PopBuildJob(ctx context.Context, username, queue, workerID string) (*JobDescriptor, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost,
		fmt.Sprintf("/build-worker/%s/%s/%s/jobs", username, queue, workerID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var job JobDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("coordinatorapi: decoding pop response: %w", err)
	}
	return &job, nil
}

// FetchBuildSource streams the job's uploaded source tarball, optionally
// resuming from a byte offset. The caller is responsible for closing the
// returned reader.
func (c *Client) FetchBuildSource(ctx context.Context, username, queue, workerID, jobID string, offset int64) (io.ReadCloser, error) {
	path, err := withQuery(
		fmt.Sprintf("/build-worker/%s/%s/%s/jobs/%s/build-source", username, queue, workerID, jobID),
		fetchSourceOptions{Offset: offset},
	)
	if err != nil {
		return nil, err
	}

	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// LogOutputResponse is the structured-log endpoint's reply.
type LogOutputResponse struct {
	Terminated bool `json:"terminated"`
}

// LogBuildOutputStructured posts a chunk of build output, tagged with the
// current section metadata, to the coordinator's tagged-log endpoint. The
// chunk and metadata are form-encoded, matching how the coordinator decodes
// form bodies (UTF-8 with the replacement character for invalid bytes).
func (c *Client) LogBuildOutputStructured(ctx context.Context, username, queue, workerID, jobID string, msg []byte, metadata map[string]any) (bool, error) {
	form := url.Values{}
	form.Set("msg", string(msg))
	for k, v := range metadata {
		form.Set(k, fmt.Sprintf("%v", v))
	}
	encoded := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url(fmt.Sprintf("/build-worker/%s/%s/%s/jobs/%s/tagged-log", username, queue, workerID, jobID)),
		bytes.NewReader([]byte(encoded)))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.conf.UserAgent)

	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return false, err
	}

	var out LogOutputResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("coordinatorapi: decoding log response: %w", err)
	}
	return out.Terminated, nil
}

// FinishBuild reports the final outcome of a job.
func (c *Client) FinishBuild(ctx context.Context, username, queue, workerID, jobID string, failed bool, status string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost,
		fmt.Sprintf("/build-worker/%s/%s/%s/jobs/%s/finish", username, queue, workerID, jobID),
		map[string]any{"failed": failed, "status": status})
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}
