package slack

import (
	"testing"
)

func envelopeWith(event string) Envelope {
	env, err := ParseEnvelope([]byte(`{
		"type": "event_callback",
		"team_id": "T100",
		"event_id": "Ev100",
		"event_time": 1700000000,
		"event": ` + event + `
	}`))
	if err != nil {
		panic(err)
	}
	return env
}

func TestParseMessageEvent(t *testing.T) {
	env := envelopeWith(`{"type":"message","user":"U100","text":"hello there","channel":"C100","ts":"123.456"}`)

	event, ok := ParseMessageEvent(env, "UBOT")
	if !ok {
		t.Fatal("expected event to parse")
	}
	if event.TeamID != "T100" || event.ChannelID != "C100" || event.UserID != "U100" {
		t.Fatalf("unexpected identity %+v", event)
	}
	if event.Text != "hello there" || event.MessageTS != "123.456" {
		t.Fatalf("unexpected content %+v", event)
	}
	if event.EventID != "Ev100" || event.SentAt.IsZero() {
		t.Fatalf("envelope fields not carried: %+v", event)
	}
	if event.IsAppMention {
		t.Fatal("plain message flagged as app mention")
	}
}

func TestParseMessageEventStripsBotMention(t *testing.T) {
	env := envelopeWith(`{"type":"app_mention","user":"U100","text":"<@UBOT> what is the weather for <@U200>?","channel":"C100","ts":"123.456"}`)

	event, ok := ParseMessageEvent(env, "UBOT")
	if !ok {
		t.Fatal("expected event to parse")
	}
	if !event.IsAppMention {
		t.Fatal("app mention not flagged")
	}
	if event.Text != "what is the weather for <@U200>?" {
		t.Fatalf("bot mention not stripped: %q", event.Text)
	}
}

func TestParseMessageEventFilters(t *testing.T) {
	cases := []struct {
		name  string
		event string
	}{
		{"bot message", `{"type":"message","user":"U100","bot_id":"B100","text":"hi","channel":"C100","ts":"1.2"}`},
		{"own message", `{"type":"message","user":"UBOT","text":"hi","channel":"C100","ts":"1.2"}`},
		{"edited subtype", `{"type":"message","subtype":"message_changed","user":"U100","text":"hi","channel":"C100","ts":"1.2"}`},
		{"reaction event", `{"type":"reaction_added","user":"U100","channel":"C100","ts":"1.2"}`},
		{"empty text", `{"type":"message","user":"U100","text":"","channel":"C100","ts":"1.2"}`},
		{"missing user", `{"type":"message","text":"hi","channel":"C100","ts":"1.2"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := ParseMessageEvent(envelopeWith(tc.event), "UBOT"); ok {
				t.Fatalf("event should be filtered: %s", tc.event)
			}
		})
	}
}

func TestParseEnvelopeChallenge(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"url_verification","challenge":"abc123"}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != "url_verification" || env.Challenge != "abc123" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
