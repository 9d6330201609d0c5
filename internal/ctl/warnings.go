package ctl

import (
	"fmt"
	"strings"
	"time"
)

// WarningEntry mirrors one entry of GET /api/warnings.
type WarningEntry struct {
	ReceivedAt time.Time `json:"received_at"`
	Message    string    `json:"message"`
}

// Warnings lists the alerts received from the analysis server, most
// recent first. A positive limit keeps only the newest entries.
func Warnings(baseURL string, limit int, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	path := "/api/warnings"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var resp struct {
		Warnings []WarningEntry `json:"warnings"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  WARNING LOG"))
	fmt.Fprintln(out, rule(50))

	if len(resp.Warnings) == 0 {
		fmt.Fprintln(out, "  No warnings received.")
	} else {
		t := newTable("  ", "Received", "Message")
		for _, w := range resp.Warnings {
			t.row(w.ReceivedAt.Local().Format("15:04:05"), w.Message)
		}
		t.flush()
	}

	fmt.Fprintln(out)
	return nil
}
