package alerts

import (
	"testing"
	"time"

	"github.com/relayguard/relayguard/internal/config"
)

func TestFromConfigDisabled(t *testing.T) {
	n := FromConfig(config.AlertsConfig{Enabled: false, BotToken: "t", ChatID: 1})

	if _, ok := n.(Nop); !ok {
		t.Errorf("expected Nop notifier when alerts disabled")
	}
}

func TestFromConfigEnabled(t *testing.T) {
	n := FromConfig(config.AlertsConfig{Enabled: true, BotToken: "t", ChatID: 1})

	if _, ok := n.(*Deduper); !ok {
		t.Errorf("expected deduplicating notifier when alerts enabled")
	}
}

type countingNotifier struct {
	calls int
}

func (c *countingNotifier) Notify(string) error {
	c.calls++
	return nil
}

func TestDeduperSuppressesRepeats(t *testing.T) {
	next := &countingNotifier{}
	d := NewDeduper(next, time.Minute)

	for i := 0; i < 3; i++ {
		if err := d.Notify("shutdown triggered"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := d.Notify("recovery complete"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if next.calls != 2 {
		t.Errorf("expected 2 delivered messages, got %d", next.calls)
	}
	if d.Size() != 2 {
		t.Errorf("expected 2 tracked messages, got %d", d.Size())
	}
}

func TestDeduperExpiresWindow(t *testing.T) {
	next := &countingNotifier{}
	d := NewDeduper(next, 10*time.Millisecond)

	if err := d.Notify("flap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := d.Notify("flap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if next.calls != 2 {
		t.Errorf("expected resend after window expiry, got %d deliveries", next.calls)
	}
}

func TestTelegramMissingConfigIsNoop(t *testing.T) {
	n := NewTelegram(config.AlertsConfig{})

	if err := n.Notify("test"); err != nil {
		t.Errorf("expected missing config to be a silent no-op, got %v", err)
	}
}

func TestTelegramEmptyMessageIsNoop(t *testing.T) {
	n := NewTelegram(config.AlertsConfig{BotToken: "token", ChatID: 42})

	if err := n.Notify("   "); err != nil {
		t.Errorf("expected empty message to be a no-op, got %v", err)
	}
}

func TestNopNotify(t *testing.T) {
	if err := (Nop{}).Notify("anything"); err != nil {
		t.Errorf("unexpected error from Nop: %v", err)
	}
}
