package watch

import (
	"encoding/json"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/project-ultron/sentinel/internal/analysis"
)

// --- Message types ---

type statusMsg struct {
	Service     string        `json:"service"`
	Fingerprint string        `json:"fingerprint"`
	UptimeS     int64         `json:"uptime_s"`
	LastBatch   *batchSummary `json:"last_batch"`
	LastBatchAt *time.Time    `json:"last_batch_at"`
	Categories  []string      `json:"categories"`
}

type batchSummary struct {
	RunID      string `json:"run_id"`
	Dispatched int    `json:"dispatched"`
	Skipped    int    `json:"skipped"`
	Alerts     int    `json:"alerts"`
	Errors     int    `json:"errors"`
}

type resultsMsg struct {
	Results []analysis.Result `json:"results"`
}

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchStatus queries /v1/status.
func fetchStatus(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var msg statusMsg
		if err := getJSON(apiURL+"/v1/status", apiKey, &msg); err != nil {
			return errMsg(err)
		}
		return msg
	}
}

// fetchResults queries /v1/results/latest.
func fetchResults(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var msg resultsMsg
		if err := getJSON(apiURL+"/v1/results/latest?limit=25", apiKey, &msg); err != nil {
			return errMsg(err)
		}
		return msg
	}
}

func getJSON(url, apiKey string, out any) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}
