package ctl

import (
	"fmt"
	"strings"
)

// Pause stops detection and freezes the session clock.
func Pause(baseURL string, jsonOutput bool) error {
	return sessionControl(baseURL, "/api/pause", "PAUSED", nil, jsonOutput)
}

// Resume restarts detection after a pause.
func Resume(baseURL string, jsonOutput bool) error {
	return sessionControl(baseURL, "/api/resume", "RESUMED", nil, jsonOutput)
}

// Retry reconnects to the analysis server after the connection has failed.
func Retry(baseURL string, jsonOutput bool) error {
	return sessionControl(baseURL, "/api/retry", "RETRYING", nil, jsonOutput)
}

// End ends the session. The daemon exits afterwards.
func End(baseURL, reason string, jsonOutput bool) error {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return sessionControl(baseURL, "/api/end", "ENDED", body, jsonOutput)
}

func sessionControl(baseURL, path, label string, body any, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := postJSON(baseURL, path, body, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(green, label), result.Message)
		return nil
	}
	fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	return fmt.Errorf("%s: %s", strings.TrimPrefix(path, "/api/"), result.Error)
}
