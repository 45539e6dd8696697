package common

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// GatewayTimeout caps every outbound call to the payment gateway. A
// timed-out call is treated as "no answer", never as a hard error.
const GatewayTimeout = 15 * time.Second

var httpClient = &http.Client{Timeout: GatewayTimeout}

// Post sends a JSON POST request and decodes the response body. The
// context bounds the whole round trip; callers pass a context already
// carrying the gateway deadline.
func Post(ctx context.Context, url string, payload interface{}, headers map[string]string) (interface{}, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(req)
}

// Get sends a GET request and decodes the response body.
func Get(ctx context.Context, url string, headers map[string]string) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(req)
}

func do(req *http.Request) (interface{}, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			// Some gateway endpoints reply with bare text.
			return string(body), nil
		}
	}

	return result, nil
}
