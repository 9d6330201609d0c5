package ctl

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Health checks daemon health via GET /healthz, asking for the
// component-level report.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", http.Header{"Accept": {"application/json"}})
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var report struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		report.Healthy = status == http.StatusOK
	}

	if jsonOutput {
		return printJSON(map[string]any{"healthy": report.Healthy, "url": baseURL, "checks": report.Checks})
	}

	fmt.Fprintln(out)
	if report.Healthy {
		fmt.Fprintf(out, "  %s  attentiond is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(out, "  %s  attentiond returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := check["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		var detail string
		if e, _ := check["error"].(string); e != "" {
			detail = e
		} else if d, _ := check["detail"].(string); d != "" {
			detail = d
		}
		fmt.Fprintf(out, "    %s %s %s\n", mark, padRight(name, 14), colorize(dim, detail))
	}
	fmt.Fprintln(out)

	return nil
}
