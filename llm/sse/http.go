package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
)

// maxErrorBody caps how much of a non-2xx body is kept on the error.
const maxErrorBody = 64 << 10

// NewJSONRequest builds a POST request with a JSON body and the given headers.
func NewJSONRequest(ctx context.Context, url string, body any, headers map[string]string) (*http.Request, error) {
	var payload []byte
	switch b := body.(type) {
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do sends req and returns the body of a 2xx reply. Transport failures become
// network errors and non-2xx replies become backend errors carrying the body.
// Context cancellation is returned unwrapped.
func Do(client *http.Client, req *http.Request) (io.ReadCloser, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.NewNetworkError("request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, llm.ClassifyStatus(resp.StatusCode, string(body), parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return resp.Body, nil
}

// DoJSON sends req and returns the full body of a 2xx reply.
func DoJSON(client *http.Client, req *http.Request) ([]byte, error) {
	body, err := Do(client, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.NewNetworkError("failed to read response body", err)
	}
	return data, nil
}

func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}
