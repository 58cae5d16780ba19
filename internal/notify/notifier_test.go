package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name  string
	err   error
	calls int
}

func (s *fakeSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"position_opened"}, testLogger())

	if err := n.Notify(context.Background(), "position_opened", "t", "m"); err != nil {
		t.Fatalf("allowed event: %v", err)
	}
	if err := n.Notify(context.Background(), "signal_ignored", "t", "m"); err != nil {
		t.Fatalf("filtered event must not error: %v", err)
	}
	if s.calls != 1 {
		t.Errorf("expected 1 delivery, got %d", s.calls)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	n.Notify(context.Background(), "position_opened", "t", "m")
	n.Notify(context.Background(), "anything_else", "t", "m")

	if s.calls != 2 {
		t.Errorf("expected 2 deliveries, got %d", s.calls)
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"daily_report"}, testLogger())

	if err := n.NotifyAll(context.Background(), "t", "m"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if s.calls != 1 {
		t.Errorf("expected 1 delivery, got %d", s.calls)
	}
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	broken := &fakeSender{name: "telegram", err: errors.New("http 502")}
	healthy := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.Notify(context.Background(), "position_closed", "t", "m")
	if err == nil {
		t.Fatal("expected an error from the failing sender")
	}
	if healthy.calls != 1 {
		t.Error("healthy sender must still be called")
	}
	if !strings.Contains(err.Error(), "telegram") || !strings.Contains(err.Error(), "1 sender(s) failed") {
		t.Errorf("expected named sender in error, got: %v", err)
	}
}

func TestNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	if err := n.Notify(context.Background(), "position_opened", "t", "m"); err != nil {
		t.Fatalf("no senders configured: %v", err)
	}
}
