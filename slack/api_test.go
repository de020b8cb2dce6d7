package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostMessage(t *testing.T) {
	var captured postMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1.2"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.Client(), srv.URL, "xoxb-test", "xapp-test")
	if err := api.PostMessage(context.Background(), "C100", "hello", "9.9"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if captured.Channel != "C100" || captured.Text != "hello" || captured.ThreadTS != "9.9" {
		t.Fatalf("unexpected request %+v", captured)
	}
}

func TestPostMessageRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.Client(), srv.URL, "xoxb-test", "")
	if err := api.PostMessage(context.Background(), "C100", "hello", ""); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestPostMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.Client(), srv.URL, "xoxb-test", "")
	err := api.PostMessage(context.Background(), "C404", "hello", "")
	if err == nil || err.Error() != "slack chat.postMessage failed: channel_not_found" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPostMessageValidation(t *testing.T) {
	api := NewAPI(nil, "", "xoxb-test", "")
	if err := api.PostMessage(context.Background(), "", "hello", ""); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if err := api.PostMessage(context.Background(), "C100", "", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestAuthTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.test" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"team_id":"T100","user_id":"UBOT","bot_id":"B100"}`))
	}))
	defer srv.Close()

	api := NewAPI(srv.Client(), srv.URL, "xoxb-test", "")
	auth, err := api.AuthTest(context.Background())
	if err != nil {
		t.Fatalf("AuthTest: %v", err)
	}
	if auth.TeamID != "T100" || auth.UserID != "UBOT" || auth.BotID != "B100" {
		t.Fatalf("unexpected result %+v", auth)
	}
}
