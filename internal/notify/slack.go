// Package notify posts run notifications to a Slack webhook.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/johndauphine/tg-migrate/internal/config"
)

const footer = "tg-migrate"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunStarted sends notification when a run starts
func (n *Notifier) RunStarted(runID, kind, detail string) error {
	if !n.IsEnabled() {
		return nil
	}

	fields := []SlackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Kind", Value: kind, Short: true},
	}
	if detail != "" {
		fields = append(fields, SlackField{Title: "Target", Value: detail, Short: false})
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{{
			Color:     "#36a64f", // green
			Title:     fmt.Sprintf("%s started", titleCase(kind)),
			Fields:    fields,
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	})
}

// RunCompleted sends notification when a run finishes
func (n *Notifier) RunCompleted(runID, kind string, startTime time.Time, duration time.Duration, counts []Count, errorCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	color, icon := "#36a64f", ":white_check_mark:"
	header := fmt.Sprintf("%s completed successfully.", titleCase(kind))
	if errorCount > 0 {
		color, icon = "#ffc107", ":warning:"
		header = fmt.Sprintf("%s completed with %s errors.", titleCase(kind), humanize.Comma(int64(errorCount)))
	}

	fields := []SlackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
		{Title: "Duration", Value: formatDuration(duration), Short: true},
	}
	for _, c := range counts {
		fields = append(fields, SlackField{Title: c.Label, Value: humanize.Comma(c.Value), Short: true})
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Text:      header,
		Attachments: []SlackAttachment{{
			Color:     color,
			Fields:    fields,
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	})
}

// RunFailed sends notification when a run aborts
func (n *Notifier) RunFailed(runID, kind string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{{
			Color: "#dc3545", // red
			Title: fmt.Sprintf("%s failed", titleCase(kind)),
			Fields: []SlackField{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Error", Value: errMsg, Short: false},
			},
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	})
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func titleCase(s string) string {
	if s == "" {
		return "Run"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
