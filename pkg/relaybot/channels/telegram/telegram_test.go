package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// fakeBotAPI is a minimal Bot API server recording sendMessage payloads.
type fakeBotAPI struct {
	mu      sync.Mutex
	sent    []map[string]any
	updates []string
	served  bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Dik","username":"dik_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.mu.Lock()
			first := !f.served
			f.served = true
			f.mu.Unlock()
			if first {
				io.WriteString(w, `{"ok":true,"result":[`+strings.Join(f.updates, ",")+`]}`)
				return
			}
			time.Sleep(20 * time.Millisecond)
			io.WriteString(w, `{"ok":true,"result":[]}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Errorf("bad sendMessage body: %v", err)
			}
			f.mu.Lock()
			f.sent = append(f.sent, payload)
			n := len(f.sent)
			f.mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":`+strings.Repeat("1", n)+`}}`)
		default:
			io.WriteString(w, `{"ok":false,"description":"Not Found"}`)
		}
	})
}

func newTestTelegram(t *testing.T, api *fakeBotAPI, mutate func(*Config)) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Token = "TOKEN"
	cfg.APIURL = srv.URL
	cfg.PollTimeout = 1
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil)
}

func receive(t *testing.T, tg *Telegram) *channels.IncomingMessage {
	t.Helper()
	select {
	case msg := <-tg.Receive():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for incoming event")
		return nil
	}
}

func TestProcessUpdateTextWithReplyToBot(t *testing.T) {
	tg := New(Config{Token: "x", RespondToGroups: true, RespondToDMs: true}, nil)
	tg.botID.Store(42)

	tg.processUpdate(tgUpdate{
		UpdateID: 1,
		Message: &tgMessage{
			MessageID: 10,
			From:      &tgUser{ID: 7, FirstName: "Ann"},
			Chat:      tgChat{ID: -100, Type: "supergroup"},
			Date:      1700000000,
			Text:      "what about this?",
			ReplyToMessage: &tgMessage{
				MessageID: 9,
				From:      &tgUser{ID: 42, IsBot: true},
				Text:      "earlier answer",
			},
		},
	})

	msg := receive(t, tg)
	if msg.Type != channels.MessageText {
		t.Fatalf("type = %q, want text", msg.Type)
	}
	if msg.ChatID != "-100" || msg.From != "7" || msg.FromName != "Ann" {
		t.Errorf("unexpected identity: chat=%q from=%q name=%q", msg.ChatID, msg.From, msg.FromName)
	}
	if !msg.IsGroup {
		t.Error("expected supergroup to be a group")
	}
	if msg.ReplyTo != "9" || !msg.ReplyToIsBot {
		t.Errorf("reply context = (%q, %v), want (\"9\", true)", msg.ReplyTo, msg.ReplyToIsBot)
	}
}

func TestProcessUpdateReplyToOtherBot(t *testing.T) {
	tg := New(Config{Token: "x", RespondToGroups: true, RespondToDMs: true}, nil)
	tg.botID.Store(42)

	tg.processUpdate(tgUpdate{Message: &tgMessage{
		MessageID:      2,
		Chat:           tgChat{ID: 5, Type: "private"},
		Text:           "hi",
		ReplyToMessage: &tgMessage{MessageID: 1, From: &tgUser{ID: 99, IsBot: true}},
	}})

	if msg := receive(t, tg); msg.ReplyToIsBot {
		t.Error("reply to a different bot must not count as bot reply context")
	}
}

func TestProcessUpdateFilters(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		chat tgChat
		text string
	}{
		{"empty text", Config{RespondToGroups: true, RespondToDMs: true}, tgChat{ID: 1, Type: "private"}, ""},
		{"groups disabled", Config{RespondToDMs: true}, tgChat{ID: 1, Type: "group"}, "hi"},
		{"dms disabled", Config{RespondToGroups: true}, tgChat{ID: 1, Type: "private"}, "hi"},
		{"chat not allowed", Config{RespondToGroups: true, RespondToDMs: true, AllowedChats: []int64{2}}, tgChat{ID: 1, Type: "private"}, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := New(tt.cfg, nil)
			tg.processUpdate(tgUpdate{Message: &tgMessage{MessageID: 1, Chat: tt.chat, Text: tt.text}})
			select {
			case msg := <-tg.Receive():
				t.Fatalf("expected message to be filtered, got %+v", msg)
			default:
			}
		})
	}
}

func TestProcessMessageReaction(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)

	tg.processUpdate(tgUpdate{MessageReaction: &tgMessageReaction{
		Chat:      tgChat{ID: -5, Type: "group"},
		MessageID: 77,
		User:      &tgUser{ID: 3, Username: "bob"},
		Date:      1700000000,
		NewReaction: []tgReaction{
			{Type: "emoji", Emoji: "👍"},
			{Type: "custom_emoji", CustomEmojiID: "abc"},
		},
	}})

	msg := receive(t, tg)
	if msg.Type != channels.MessageReaction || msg.Reaction == nil {
		t.Fatalf("expected reaction event, got %+v", msg)
	}
	if msg.Reaction.MessageID != "77" || msg.From != "3" || msg.ChatID != "-5" {
		t.Errorf("unexpected reaction identity: %+v", msg.Reaction)
	}
	if len(msg.Reaction.New) != 2 || msg.Reaction.New[0].Emoji != "👍" {
		t.Errorf("unexpected entries: %+v", msg.Reaction.New)
	}
	if !msg.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestProcessMessageReactionRemoved(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	tg.processUpdate(tgUpdate{MessageReaction: &tgMessageReaction{
		Chat:        tgChat{ID: 1, Type: "private"},
		MessageID:   1,
		User:        &tgUser{ID: 3},
		OldReaction: []tgReaction{{Type: "emoji", Emoji: "👍"}},
	}})

	msg := receive(t, tg)
	if len(msg.Reaction.New) != 0 {
		t.Errorf("expected empty new reaction list, got %+v", msg.Reaction.New)
	}
}

func TestReactionNotificationModes(t *testing.T) {
	reaction := &tgMessageReaction{
		Chat:        tgChat{ID: 1, Type: "private"},
		MessageID:   11,
		User:        &tgUser{ID: 3},
		NewReaction: []tgReaction{{Type: "emoji", Emoji: "🔥"}},
	}

	off := New(Config{ReactionNotifications: "off"}, nil)
	off.processMessageReaction(reaction)
	select {
	case <-off.Receive():
		t.Fatal("mode off must drop reactions")
	default:
	}

	own := New(Config{ReactionNotifications: "own"}, nil)
	own.processMessageReaction(reaction)
	select {
	case <-own.Receive():
		t.Fatal("mode own must drop reactions on foreign messages")
	default:
	}
	own.recordSentMessage(1, json.RawMessage(`{"message_id":11}`))
	own.processMessageReaction(reaction)
	receive(t, own)
}

func TestConnectPollAndSend(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":5,"message":{"message_id":3,"from":{"id":8,"first_name":"Eve"},"chat":{"id":100,"type":"private"},"date":1700000000,"text":"hello bot"}}`,
	}}
	tg := newTestTelegram(t, api, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tg.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tg.Disconnect()

	msg := receive(t, tg)
	if msg.Content != "hello bot" || msg.ChatID != "100" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := tg.Send(ctx, "100", &channels.OutgoingMessage{Content: "hi there", ReplyTo: "3"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	got := api.sent[0]
	if got["text"] != "hi there" || got["chat_id"] != float64(100) {
		t.Errorf("unexpected payload: %v", got)
	}
	if _, ok := got["parse_mode"]; ok {
		t.Error("plain text messages must not set parse_mode")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	err := tg.Send(context.Background(), "1", &channels.OutgoingMessage{Content: "x"})
	if err != channels.ErrChannelDisconnected {
		t.Fatalf("err = %v, want ErrChannelDisconnected", err)
	}
}

func TestConnectRequiresToken(t *testing.T) {
	tg := New(Config{}, nil)
	if err := tg.Connect(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}
