package coordinatorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/buildkite/roko"
)

// RegisterWorker registers a new worker with the coordinator and returns its
// assigned worker_id. Transient failures are retried with a constant
// backoff, since a worker that can't register has nothing else to do.
func (c *Client) RegisterWorker(ctx context.Context, username, queue, platform, hostname string) (string, error) {
	var workerID string

	register := func(r *roko.Retrier) error {
		req, err := c.newJSONRequest(ctx, http.MethodPost,
			fmt.Sprintf("/build-worker/%s/%s/register", username, queue),
			map[string]string{"platform": platform, "hostname": hostname})
		if err != nil {
			r.Break()
			return err
		}

		resp, err := c.do(req)
		if err != nil {
			c.logger.Warn("Registering worker failed: %s (%s)", err, r)
			return err
		}
		defer resp.Body.Close()

		if err := checkResponse(resp); err != nil {
			c.logger.Warn("Registering worker failed: %s (%s)", err, r)
			return err
		}

		var out struct {
			WorkerID string `json:"worker_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			r.Break()
			return fmt.Errorf("coordinatorapi: decoding register response: %w", err)
		}
		workerID = out.WorkerID
		return nil
	}

	err := roko.NewRetrier(
		roko.WithMaxAttempts(30),
		roko.WithStrategy(roko.Constant(10*time.Second)),
	).DoWithContext(ctx, register)

	return workerID, err
}

// RemoveWorker deregisters a worker_id with the coordinator.
func (c *Client) RemoveWorker(ctx context.Context, username, queue, workerID string) error {
	remove := func(r *roko.Retrier) error {
		req, err := c.newJSONRequest(ctx, http.MethodDelete,
			fmt.Sprintf("/build-worker/%s/%s/%s", username, queue, workerID), nil)
		if err != nil {
			r.Break()
			return err
		}

		resp, err := c.do(req)
		if err != nil {
			c.logger.Warn("Removing worker failed: %s (%s)", err, r)
			return err
		}
		defer resp.Body.Close()

		if err := checkResponse(resp); err != nil {
			c.logger.Warn("Removing worker failed: %s (%s)", err, r)
			return err
		}
		return nil
	}

	return roko.NewRetrier(
		roko.WithMaxAttempts(5),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(ctx, remove)
}
