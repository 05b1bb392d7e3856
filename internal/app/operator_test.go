package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"bybit-hedge-bot/internal/alerts"
	"bybit-hedge-bot/internal/config"
)

type fakeAlerter struct {
	mu      sync.Mutex
	sent    []string
	updates []alerts.Update
}

func (f *fakeAlerter) Send(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeAlerter) GetUpdates(_ context.Context, _ int64, _ time.Duration) ([]alerts.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.updates
	f.updates = nil
	return out, nil
}

func (f *fakeAlerter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func operatorMessage(userID int64, text string) alerts.Update {
	return alerts.Update{
		UpdateID: 1,
		Message: &alerts.Message{
			Text: text,
			From: &alerts.User{ID: userID},
			Chat: &alerts.Chat{ID: 123},
		},
	}
}

func newOperatorApp(alerter *fakeAlerter) *App {
	cfg := testConfig()
	cfg.Telegram = config.TelegramConfig{
		Enabled:                true,
		Token:                  "token",
		ChatID:                 "123",
		OperatorEnabled:        true,
		OperatorAllowedUserIDs: []int64{7},
	}
	a := newTestApp(cfg, newMemoryStore(), newFakePrices(), newFakePositions(), newFakeVenue())
	a.alerts = alerter
	return a
}

func TestParseOperatorCommand(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/status", "/status"},
		{"/STATUS", "/status"},
		{"/pause@hedgebot now", "/pause"},
		{"  /close  ", "/close"},
		{"hello", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := parseOperatorCommand(tc.in); got != tc.want {
			t.Fatalf("parseOperatorCommand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOperatorPauseResumeClose(t *testing.T) {
	alerter := &fakeAlerter{}
	a := newOperatorApp(alerter)
	ctx := context.Background()

	a.handleOperatorUpdate(ctx, operatorMessage(7, "/pause"))
	if !a.paused.Load() {
		t.Fatalf("pause command must pause the loop")
	}
	a.handleOperatorUpdate(ctx, operatorMessage(7, "/resume"))
	if a.paused.Load() {
		t.Fatalf("resume command must unpause the loop")
	}
	a.handleOperatorUpdate(ctx, operatorMessage(7, "/close"))
	if !a.closeAll.Load() {
		t.Fatalf("close command must request a close")
	}
	if len(alerter.messages()) != 3 {
		t.Fatalf("expected an acknowledgement per command, got %d", len(alerter.messages()))
	}
}

func TestOperatorStatusReply(t *testing.T) {
	alerter := &fakeAlerter{}
	a := newOperatorApp(alerter)
	a.handleOperatorUpdate(context.Background(), operatorMessage(7, "/status"))
	messages := alerter.messages()
	if len(messages) != 1 || messages[0] != "no tick recorded yet" {
		t.Fatalf("unexpected status reply: %v", messages)
	}
}

func TestOperatorRejectsUnknownUser(t *testing.T) {
	alerter := &fakeAlerter{}
	a := newOperatorApp(alerter)
	a.handleOperatorUpdate(context.Background(), operatorMessage(8, "/pause"))
	if a.paused.Load() {
		t.Fatalf("unauthorized user must be ignored")
	}
	if len(alerter.messages()) != 0 {
		t.Fatalf("unauthorized user gets no reply")
	}
}

func TestOperatorFallsBackToChatID(t *testing.T) {
	alerter := &fakeAlerter{}
	a := newOperatorApp(alerter)
	a.cfg.Telegram.OperatorAllowedUserIDs = nil

	a.handleOperatorUpdate(context.Background(), operatorMessage(99, "/pause"))
	if !a.paused.Load() {
		t.Fatalf("matching chat id must be accepted when no user list is set")
	}

	a.paused.Store(false)
	update := operatorMessage(99, "/pause")
	update.Message.Chat = &alerts.Chat{ID: 456}
	a.handleOperatorUpdate(context.Background(), update)
	if a.paused.Load() {
		t.Fatalf("foreign chat must be ignored")
	}
}

func TestOperatorUnknownCommandShowsHelp(t *testing.T) {
	alerter := &fakeAlerter{}
	a := newOperatorApp(alerter)
	a.handleOperatorUpdate(context.Background(), operatorMessage(7, "/bogus"))
	messages := alerter.messages()
	if len(messages) != 1 || messages[0] != operatorHelp {
		t.Fatalf("expected help text, got %v", messages)
	}
}

func TestOperatorOffsetPersistence(t *testing.T) {
	a := newOperatorApp(&fakeAlerter{})
	ctx := context.Background()
	if got := a.loadOperatorOffset(ctx); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	a.saveOperatorOffset(ctx, 42)
	if got := a.loadOperatorOffset(ctx); got != 42 {
		t.Fatalf("expected persisted offset 42, got %d", got)
	}
}
