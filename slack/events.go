package slack

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Envelope is the outer body of an Events API request.
type Envelope struct {
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type rawEvent struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
}

// MessageEvent is a normalized inbound chat message.
type MessageEvent struct {
	TeamID       string
	ChannelID    string
	UserID       string
	Text         string
	MessageTS    string
	ThreadTS     string
	EventID      string
	SentAt       time.Time
	IsAppMention bool
}

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// ParseEnvelope decodes an Events API body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(body, &env)
	return env, err
}

// ParseMessageEvent extracts a processable chat message from an
// event_callback envelope. It returns false for anything that should
// be acknowledged but ignored: non-message events, edited or deleted
// subtypes, and messages from bots (including this one).
func ParseMessageEvent(env Envelope, botUserID string) (MessageEvent, bool) {
	if strings.TrimSpace(env.Type) != "event_callback" || len(env.Event) == 0 {
		return MessageEvent{}, false
	}
	var event rawEvent
	if err := json.Unmarshal(env.Event, &event); err != nil {
		return MessageEvent{}, false
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType != "message" && eventType != "app_mention" {
		return MessageEvent{}, false
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return MessageEvent{}, false
	}
	if strings.TrimSpace(event.BotID) != "" {
		return MessageEvent{}, false
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return MessageEvent{}, false
	}
	channelID := strings.TrimSpace(event.Channel)
	text := strings.TrimSpace(event.Text)
	messageTS := strings.TrimSpace(event.TS)
	if channelID == "" || text == "" || messageTS == "" {
		return MessageEvent{}, false
	}

	teamID := strings.TrimSpace(env.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}
	sentAt := time.Now().UTC()
	if env.EventTime > 0 {
		sentAt = time.Unix(env.EventTime, 0).UTC()
	}
	return MessageEvent{
		TeamID:       teamID,
		ChannelID:    channelID,
		UserID:       userID,
		Text:         stripMention(text, botUserID),
		MessageTS:    messageTS,
		ThreadTS:     strings.TrimSpace(event.ThreadTS),
		EventID:      strings.TrimSpace(env.EventID),
		SentAt:       sentAt,
		IsAppMention: eventType == "app_mention",
	}, true
}

// stripMention removes mentions of the bot itself so the model sees the
// bare request. Mentions of other users stay in place.
func stripMention(text, botUserID string) string {
	botUserID = strings.TrimSpace(botUserID)
	if botUserID == "" {
		return text
	}
	cleaned := mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := mentionPattern.FindStringSubmatch(match)
		if len(sub) == 2 && sub[1] == botUserID {
			return ""
		}
		return match
	})
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return text
	}
	return cleaned
}
