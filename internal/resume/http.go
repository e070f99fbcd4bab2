package resume

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// HTTPRecorder posts positions to the portal.
type HTTPRecorder struct {
	Endpoint string
	APIKey   string
	client   *retryablehttp.Client
}

type positionReport struct {
	ItemID          string  `json:"itemId"`
	PositionSeconds float64 `json:"positionSeconds"`
}

// NewHTTPRecorder returns a recorder posting to endpoint. Requests carry the
// API key in X-Api-Key when one is set.
func NewHTTPRecorder(endpoint, apiKey string) *HTTPRecorder {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = 10 * time.Second

	return &HTTPRecorder{Endpoint: endpoint, APIKey: apiKey, client: c}
}

func (r *HTTPRecorder) Record(ctx context.Context, itemID string, seconds float64) error {
	body, err := json.Marshal(positionReport{ItemID: itemID, PositionSeconds: seconds})
	if err != nil {
		return errors.Wrap(err, "resume: encode report")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "resume: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("X-Api-Key", r.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "resume: post position")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("resume: post position: unexpected status %s", resp.Status)
	}
	return nil
}
