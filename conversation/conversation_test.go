package conversation

import (
	"context"
	"strings"
	"testing"
	"time"
)

type recordingBackend struct {
	saves   []Snapshot
	deletes []string
}

func (b *recordingBackend) Save(_ context.Context, snap Snapshot) error {
	b.saves = append(b.saves, snap)
	return nil
}

func (b *recordingBackend) Delete(_ context.Context, _, channelID string) error {
	b.deletes = append(b.deletes, channelID)
	return nil
}

func TestSharedChannelConversation(t *testing.T) {
	s := NewStore(50, nil)
	ctx := context.Background()

	conv := s.AddUserMessage(ctx, "u1", "c1", "Hi", "openai", "gpt-4")
	if conv.UserID != "shared" || conv.ChannelID != "c1" {
		t.Fatalf("unexpected conversation identity %+v", conv)
	}
	if !strings.HasPrefix(conv.ID, "shared_c1_") {
		t.Fatalf("unexpected conversation id %q", conv.ID)
	}
	if got := conv.Messages[0].Content; got != "[u1]: Hi" {
		t.Fatalf("user message not tagged: %q", got)
	}

	// a second user in the same channel joins the same conversation
	conv2 := s.AddUserMessage(ctx, "u2", "c1", "Hello", "openai", "gpt-4")
	if conv2.ID != conv.ID {
		t.Fatal("users in one channel must share a conversation")
	}
	if len(conv2.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv2.Messages))
	}
}

func TestAppendWithoutConversationIsNoOp(t *testing.T) {
	s := NewStore(50, nil)
	ctx := context.Background()

	if conv := s.AddAssistantMessage(ctx, "c1", "orphan"); conv != nil {
		t.Fatal("assistant append without conversation must be a no-op")
	}
	if conv := s.AddToolResult(ctx, "c1", "get_weather", "sunny"); conv != nil {
		t.Fatal("tool append without conversation must be a no-op")
	}
	if got := s.Context("c1", 20); got != nil {
		t.Fatalf("expected empty context, got %v", got)
	}
}

func TestContextExcludesSystemAndToolTurns(t *testing.T) {
	s := NewStore(50, nil)
	ctx := context.Background()

	s.AddUserMessage(ctx, "u1", "c1", "weather?", "openai", "gpt-4")
	s.AddToolResult(ctx, "c1", "get_weather", `{"temperature": 22}`)
	s.AddAssistantMessage(ctx, "c1", "It is 22 degrees.")

	got := s.Context("c1", 20)
	if len(got) != 2 {
		t.Fatalf("expected 2 context messages, got %+v", got)
	}
	if got[0].Role != "user" || got[0].Content != "[u1]: weather?" {
		t.Fatalf("unexpected first message %+v", got[0])
	}
	if got[1].Role != "assistant" || got[1].Content != "It is 22 degrees." {
		t.Fatalf("unexpected second message %+v", got[1])
	}
}

func TestTrimKeepsSystemPlusRecent(t *testing.T) {
	s := NewStore(5, nil)
	ctx := context.Background()

	conv := s.AddUserMessage(ctx, "u1", "c1", "m1", "openai", "gpt-4")
	// seed a system turn ahead of the chatter
	conv.Messages = append([]Message{{Role: "system", Content: "be brief"}}, conv.Messages...)

	s.AddAssistantMessage(ctx, "c1", "a1")
	for i := 2; i <= 4; i++ {
		s.AddUserMessage(ctx, "u1", "c1", "m", "openai", "gpt-4")
		s.AddAssistantMessage(ctx, "c1", "a")
	}

	conv, _ = s.Get("c1")
	if len(conv.Messages) != 6 {
		t.Fatalf("expected 1 system + 5 recent, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != "system" {
		t.Fatalf("system turn must survive trim, got %+v", conv.Messages[0])
	}
	for _, msg := range conv.Messages[1:] {
		if msg.Role == "system" {
			t.Fatal("unexpected extra system turn")
		}
	}
	if last := conv.Messages[len(conv.Messages)-1]; last.Content != "a" {
		t.Fatalf("trim must keep the most recent turns, got %+v", last)
	}
}

func TestSnapshotExcludesToolTurns(t *testing.T) {
	backend := &recordingBackend{}
	s := NewStore(50, backend)
	ctx := context.Background()

	s.AddUserMessage(ctx, "u1", "c1", "weather?", "openai", "gpt-4")
	s.AddToolResult(ctx, "c1", "get_weather", "sunny")
	s.AddAssistantMessage(ctx, "c1", "Sunny today.")

	if len(backend.saves) != 3 {
		t.Fatalf("expected 3 saves, got %d", len(backend.saves))
	}
	last := backend.saves[len(backend.saves)-1]
	if last.UserID != "shared" || last.ChannelID != "c1" {
		t.Fatalf("unexpected snapshot identity %+v", last)
	}
	for _, msg := range last.Messages {
		if msg.Role == "tool" {
			t.Fatal("snapshot must not carry tool turns")
		}
	}
	if len(last.Messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %+v", last.Messages)
	}
}

func TestClear(t *testing.T) {
	backend := &recordingBackend{}
	s := NewStore(50, backend)
	ctx := context.Background()

	if s.Clear(ctx, "c1") {
		t.Fatal("clearing an absent conversation must report false")
	}
	s.AddUserMessage(ctx, "u1", "c1", "Hi", "openai", "gpt-4")
	if !s.Clear(ctx, "c1") {
		t.Fatal("clearing an existing conversation must report true")
	}
	if _, ok := s.Get("c1"); ok {
		t.Fatal("conversation still present after clear")
	}
	if len(backend.deletes) != 1 || backend.deletes[0] != "c1" {
		t.Fatalf("backend delete not issued: %v", backend.deletes)
	}
}

func TestCleanupEvictsOldest(t *testing.T) {
	s := NewStore(50, nil)
	ctx := context.Background()

	s.AddUserMessage(ctx, "u1", "c1", "first", "openai", "gpt-4")
	s.AddUserMessage(ctx, "u1", "c2", "second", "openai", "gpt-4")
	s.AddUserMessage(ctx, "u1", "c3", "third", "openai", "gpt-4")
	// make c1 unambiguously the oldest
	conv, _ := s.Get("c1")
	conv.UpdatedAt = conv.UpdatedAt.Add(-time.Minute)

	if removed := s.Cleanup(0); removed != 0 {
		t.Fatalf("cleanup disabled must remove nothing, removed %d", removed)
	}
	if removed := s.Cleanup(2); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok := s.Get("c1"); ok {
		t.Fatal("oldest conversation must be evicted first")
	}
	if _, ok := s.Get("c3"); !ok {
		t.Fatal("recent conversation must survive cleanup")
	}
}

func TestRestoreSeedsChannel(t *testing.T) {
	s := NewStore(50, nil)
	ctx := context.Background()

	if s.Restore(Snapshot{ChannelID: "c1"}) {
		t.Fatal("empty snapshot must not restore")
	}
	snap := Snapshot{
		UserID:    "shared",
		ChannelID: "c1",
		Messages: []SnapshotMessage{
			{Role: "user", Content: "[u1]: Hi"},
			{Role: "assistant", Content: "Hello!"},
		},
	}
	if !s.Restore(snap) {
		t.Fatal("snapshot restore must apply")
	}

	// the restored history is live: appends extend it
	conv := s.AddAssistantMessage(ctx, "c1", "Welcome back.")
	if conv == nil {
		t.Fatal("restored channel must accept assistant messages")
	}
	got := s.Context("c1", 0)
	if len(got) != 3 || got[0].Content != "[u1]: Hi" || got[2].Content != "Welcome back." {
		t.Fatalf("unexpected restored context %+v", got)
	}

	// a live conversation is never overwritten
	if s.Restore(snap) {
		t.Fatal("restore must not replace a live conversation")
	}
}
