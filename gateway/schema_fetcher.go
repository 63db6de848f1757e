package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// serviceSDLResponse is the response to { _service { sdl } }.
type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

// RetryOption configures SDL fetching.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout"  default:"5s"`
}

// fetchSDL asks a subgraph for its own schema by posting
// { _service { sdl } } to its GraphQL endpoint, retrying up to
// retry.Attempts times with a per-attempt timeout.
func fetchSDL(host string, httpClient *http.Client, retry RetryOption) (string, error) {
	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	timeout := 5 * time.Second
	if retry.Timeout != "" {
		if d, err := time.ParseDuration(retry.Timeout); err == nil {
			timeout = d
		}
	}

	body := []byte(`{"query":"{_service{sdl}}"}`)

	var lastErr error
	for i := 0; i < attempts; i++ {
		sdl, err := doFetchSDL(host, httpClient, body, timeout)
		if err == nil {
			return sdl, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to fetch SDL from %s after %d attempt(s): %w", host, attempts, lastErr)
}

func doFetchSDL(host string, httpClient *http.Client, body []byte, timeout time.Duration) (string, error) {
	client := httpClient
	if timeout > 0 {
		client = &http.Client{
			Timeout:   timeout,
			Transport: httpClient.Transport,
		}
	}

	resp, err := client.Post(host, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, host)
	}

	var svcResp serviceSDLResponse
	if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
		return "", fmt.Errorf("failed to decode SDL response: %w", err)
	}

	if svcResp.Data.Service.SDL == "" {
		return "", fmt.Errorf("empty SDL returned from %s", host)
	}

	return svcResp.Data.Service.SDL, nil
}
