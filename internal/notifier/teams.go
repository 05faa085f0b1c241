package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Teams posts adaptive cards to a Microsoft Teams incoming webhook.
type Teams struct {
	webhookURL string
	client     *http.Client
}

func NewTeams(webhookURL string, client *http.Client) *Teams {
	if client == nil {
		client = http.DefaultClient
	}
	return &Teams{webhookURL: webhookURL, client: client}
}

func (t *Teams) Name() string { return "teams" }

func (t *Teams) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(BuildCard(msg))
	if err != nil {
		return fmt.Errorf("encode card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type card map[string]interface{}

// BuildCard renders msg as a Teams message carrying one adaptive card.
func BuildCard(msg Message) card {
	style, color := "warning", "Warning"
	if msg.Kind == KindDecision {
		style, color = "good", "Good"
		if msg.Status == "Rejected" {
			style, color = "attention", "Attention"
		}
	}

	facts := []card{
		{"title": "File:", "value": msg.FileName},
		{"title": "Invoice Number:", "value": msg.InvoiceNumber},
		{"title": "Date:", "value": msg.InvoiceDate},
		{"title": "Category:", "value": msg.Category},
		{"title": "Total Amount:", "value": msg.TotalAmount},
	}
	if msg.Kind == KindPending {
		facts = append(facts, card{"title": "Item Count:", "value": strconv.Itoa(msg.ItemCount)})
	} else {
		facts = append(facts,
			card{"title": "Decided By:", "value": msg.DecidedBy},
			card{"title": "Time To Decision:", "value": msg.Elapsed},
		)
	}

	body := []card{
		{
			"type":  "Container",
			"style": style,
			"items": []card{{"type": "TextBlock", "text": msg.Title, "weight": "Bolder", "size": "Large", "color": color}},
		},
		{
			"type":    "Container",
			"spacing": "Medium",
			"items": []card{
				{"type": "TextBlock", "text": "**Invoice Details**", "weight": "Bolder", "size": "Medium"},
				{"type": "FactSet", "facts": facts},
			},
		},
	}

	if len(msg.Reasons) > 0 {
		label := "**Pending Reason**"
		if msg.Kind == KindDecision {
			label = "**Comments**"
		}
		body = append(body, card{
			"type":    "Container",
			"spacing": "Medium",
			"items": []card{
				{"type": "TextBlock", "text": label, "weight": "Bolder", "size": "Medium"},
				{"type": "TextBlock", "text": " • " + strings.Join(msg.Reasons, "\n • "), "wrap": true, "color": color},
			},
		})
	}

	if msg.Kind == KindPending {
		items := "No items found"
		if len(msg.Items) > 0 {
			items = strings.Join(msg.Items, "\n\n")
		}
		body = append(body, card{
			"type":    "Container",
			"spacing": "Medium",
			"items": []card{
				{"type": "TextBlock", "text": "**Items**", "weight": "Bolder", "size": "Medium"},
				{"type": "TextBlock", "text": items, "wrap": true},
			},
		})
	}

	var actions []card
	if msg.Kind == KindPending {
		actions = append(actions,
			card{"type": "Action.OpenUrl", "title": "Approve", "url": msg.Links.Approve, "style": "positive"},
			card{"type": "Action.OpenUrl", "title": "Reject", "url": msg.Links.Reject, "style": "destructive"},
		)
	}
	if msg.Links.View != "" {
		actions = append(actions, card{"type": "Action.OpenUrl", "title": "View Invoice", "url": msg.Links.View})
	}

	return card{
		"type": "message",
		"attachments": []card{{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content": card{
				"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
				"type":    "AdaptiveCard",
				"version": "1.4",
				"body":    body,
				"actions": actions,
			},
		}},
	}
}
