package messaging

import (
	"encoding/json"
	"fmt"
)

// metaWebhook mirrors the parts of the Meta webhook payload we read
type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Button struct {
						Text string `json:"text"`
					} `json:"button"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook accepts either a Meta Cloud API webhook body or the flat
// {phone, message, waMessageId} shape used by internal relays.
// Status callbacks and non-text messages yield no messages.
func ParseWebhook(body []byte) ([]InboundMessage, error) {
	var meta metaWebhook
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	if meta.Object != "" {
		var out []InboundMessage
		for _, entry := range meta.Entry {
			for _, change := range entry.Changes {
				for _, m := range change.Value.Messages {
					text := m.Text.Body
					if m.Type == "button" {
						text = m.Button.Text
					}
					if text == "" {
						continue
					}
					out = append(out, InboundMessage{
						Phone:       m.From,
						Message:     text,
						WAMessageID: m.ID,
					})
				}
			}
		}
		return out, nil
	}

	var flat InboundMessage
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if flat.Phone == "" || flat.Message == "" {
		return nil, fmt.Errorf("webhook payload requires phone and message")
	}
	return []InboundMessage{flat}, nil
}
