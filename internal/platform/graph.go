package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"golang.org/x/time/rate"
)

// graphClient speaks the JSON dialect shared by the Facebook and Instagram Graph APIs.
type graphClient struct {
	platform models.Platform
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
}

func newGraphClient(p models.Platform, baseURL string, client *http.Client, perMinute int) *graphClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &graphClient{
		platform: p,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     client,
		limiter:  newLimiter(perMinute),
	}
}

func (g *graphClient) post(ctx context.Context, path string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *graphClient) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	return g.do(req, out)
}

func (g *graphClient) do(req *http.Request, out interface{}) error {
	if err := g.limiter.Wait(req.Context()); err != nil {
		return &APIError{Platform: g.platform, Message: err.Error(), Err: err}
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &APIError{Platform: g.platform, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Platform: g.platform, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr transfer.GraphErrorResponse
		msg := fmt.Sprintf("unexpected status code from %s: %d", strings.ToLower(string(g.platform)), resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &APIError{Platform: g.platform, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &APIError{Platform: g.platform, StatusCode: resp.StatusCode, Message: "error parsing response: " + err.Error(), Err: err}
	}
	return nil
}

// createID posts payload and returns the object id from the response.
func (g *graphClient) createID(ctx context.Context, path string, payload map[string]interface{}) (transfer.GraphIDResponse, error) {
	var res transfer.GraphIDResponse
	if err := g.post(ctx, path, payload, &res); err != nil {
		return res, err
	}
	if res.ID == "" {
		return res, &APIError{Platform: g.platform, StatusCode: http.StatusOK, Message: "no id returned from " + strings.ToLower(string(g.platform))}
	}
	return res, nil
}
