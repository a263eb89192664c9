package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// HTTPClient is a minimal JSON client for sibling platform services.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client rooted at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends req as JSON to path and decodes the response into out when
// out is non-nil.
func (c *HTTPClient) Post(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternal, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Newf(errors.ErrCodeExternal,
			"unexpected status %d from %s: %s", resp.StatusCode, path, string(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternal, fmt.Sprintf("undecodable response from %s", path))
	}
	return nil
}
