package ctl

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// out receives everything the commands print.
var out io.Writer = os.Stdout

// getJSON sends a GET request and decodes the JSON response into dst.
func getJSON(baseURL, path string, dst any) error {
	url := strings.TrimRight(baseURL, "/") + path
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// getRaw sends a GET request and returns the raw response body.
func getRaw(baseURL, path string, header http.Header) (int, []byte, error) {
	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// postJSON sends a POST request with a JSON body and decodes the response.
// Error responses that carry a JSON body are decoded too, so callers can
// show the daemon's message.
func postJSON(baseURL, path string, body, dst any) error {
	url := strings.TrimRight(baseURL, "/") + path
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	resp, err := httpClient.Post(url, "application/json", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.Header.Get("Content-Type") == "application/json" {
			return json.NewDecoder(resp.Body).Decode(dst)
		}
		return httpError(resp, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func httpError(resp *http.Response, path string) error {
	b, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(b))
	if msg != "" {
		return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
	}
	return fmt.Errorf("HTTP %s from %s", resp.Status, path)
}

// printJSON prints v as indented JSON.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}
