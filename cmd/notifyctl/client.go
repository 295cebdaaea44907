package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrymomot/notification-service/handler"
)

// apiError is an error envelope returned by the service.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type client struct {
	base string
	http *http.Client
}

func newClient(server string, hc *http.Client) (*client, error) {
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}
	return &client{base: strings.TrimRight(server, "/") + "/api/v1", http: hc}, nil
}

// do sends a request and returns the decoded envelope. Error envelopes and
// unexpected statuses are returned as *apiError.
func (c *client) do(ctx context.Context, method, path string, body any) (*handler.JSONResponse, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env handler.JSONResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &apiError{Status: resp.StatusCode, Code: "invalid_response", Message: strings.TrimSpace(string(raw))}
		}
	}
	if env.Error != nil {
		return nil, &apiError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &apiError{Status: resp.StatusCode, Code: "http_error", Message: http.StatusText(resp.StatusCode)}
	}
	return &env, nil
}
