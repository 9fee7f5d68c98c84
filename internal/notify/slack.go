package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mzaremba/driftwatch/internal/diff"
	"github.com/mzaremba/driftwatch/internal/source"
)

// SlackNotifier posts deltas to a Slack incoming webhook using Block Kit.
// Empty deltas and initialization rounds are suppressed; they carry nothing
// worth waking a human for.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewSlack creates a Slack webhook notifier.
func NewSlack(webhookURL string) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("slack: webhook url is required")
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{},
		now:        time.Now,
	}, nil
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, entity source.Entity, delta diff.Delta) error {
	if delta.Empty() || delta.Initial {
		return nil
	}

	payload, err := json.Marshal(s.message(entity, delta))
	if err != nil {
		return fmt.Errorf("slack: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func (s *SlackNotifier) message(entity source.Entity, delta diff.Delta) slackMessage {
	var body bytes.Buffer
	fmt.Fprintf(&body, "*%s*\n", entity.DisplayLabel())
	writeSection(&body, "Added", delta.Added)
	writeSection(&body, "Removed", delta.Removed)
	writeSection(&body, "Updated", delta.Updated)

	summary := fmt.Sprintf(":bell: *Summary:* %d added, %d removed, %d updated",
		len(delta.Added), len(delta.Removed), len(delta.Updated))

	return slackMessage{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "driftwatch update", Emoji: true},
		},
		{
			Type: "context",
			Elements: []slackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Date:* %s", s.now().Format("2006-01-02 15:04:05 MST")),
			}},
		},
		{Type: "divider"},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: body.String()},
		},
		{Type: "divider"},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: summary},
		},
	}}
}

func writeSection(body *bytes.Buffer, heading string, items []source.Item) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(body, "- *%s:*\n", heading)
	for _, it := range items {
		title := itemTitle(it)
		if url := itemURL(it); url != "" {
			fmt.Fprintf(body, "    • <%s|%s>\n", url, title)
		} else {
			fmt.Fprintf(body, "    • %s\n", title)
		}
	}
}
