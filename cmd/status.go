package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
)

// statusSnapshot mirrors bridge.Status; duplicated here rather than
// importing pkg/bridge so the CLI only ever talks to a running bridge
// over HTTP, the same way any other client would.
type statusSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ExtensionAttached bool    `json:"extension_attached"`
	Clients           int     `json:"clients"`
	Targets           int     `json:"targets"`
	PendingRequests   int     `json:"pending_requests"`
	QueuedCommands    int     `json:"queued_commands"`
}

type logEntry struct {
	Time       string `json:"time"`
	Status     string `json:"status"`
	Kind       string `json:"kind"`
	Subject    string `json:"subject"`
	Connection string `json:"connection"`
	Detail     string `json:"detail,omitempty"`
}

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusOkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Width(18)
)

// StatusCommand creates the status command: it queries a running bridge's
// discovery HTTP surface and renders a short summary plus recent activity.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a running bridge",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "CDP discovery address (host:port)",
				Value: "127.0.0.1:9222",
			},
			&cli.IntFlag{
				Name:  "logs",
				Usage: "Number of recent log entries to show",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runStatus(ctx, c.String("addr"), c.Int("logs"))
		},
	}
}

func runStatus(ctx context.Context, addr string, logLimit int) error {
	client := &http.Client{Timeout: 3 * time.Second}

	var status statusSnapshot
	if err := fetchJSON(ctx, client, fmt.Sprintf("http://%s/status", addr), &status); err != nil {
		fmt.Println(statusErrStyle.Render(fmt.Sprintf("bridge unreachable at %s: %v", addr, err)))
		return err
	}

	fmt.Println(statusTitleStyle.Render("cdpbridge status"))
	printStatusRow("address", addr)
	printStatusRow("uptime", formatDuration(time.Duration(status.UptimeSeconds*float64(time.Second))))
	printStatusRow("extension", attachedLabel(status.ExtensionAttached))
	printStatusRow("clients", formatNumber(status.Clients))
	printStatusRow("targets", formatNumber(status.Targets))
	printStatusRow("pending requests", formatNumber(status.PendingRequests))
	printStatusRow("queued commands", formatNumber(status.QueuedCommands))

	if logLimit > 0 {
		var logs []logEntry
		url := fmt.Sprintf("http://%s/logs?format=json&limit=%d", addr, logLimit)
		if err := fetchJSON(ctx, client, url, &logs); err != nil {
			fmt.Println(statusDimStyle.Render(fmt.Sprintf("could not fetch recent activity: %v", err)))
			return nil
		}
		fmt.Println()
		fmt.Println(statusTitleStyle.Render("recent activity"))
		for _, entry := range logs {
			printLogEntry(entry)
		}
	}

	return nil
}

func printStatusRow(label, value string) {
	fmt.Println(statusLabelStyle.Render(label) + value)
}

func attachedLabel(attached bool) string {
	if attached {
		return statusOkStyle.Render("attached")
	}
	return statusErrStyle.Render("not attached")
}

func printLogEntry(e logEntry) {
	style := statusOkStyle
	if e.Status == "error" || e.Status == "timeout" {
		style = statusErrStyle
	}
	fmt.Printf("%s %s %-14s %s\n", statusDimStyle.Render(e.Time), style.Render(fmt.Sprintf("%-7s", e.Status)), e.Kind, e.Subject)
}

func fetchJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
