package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

func TestNewNotificationEvent(t *testing.T) {
	starts := time.Date(2026, time.March, 4, 18, 30, 0, 0, time.UTC)
	expires := starts.Add(-24 * time.Hour)
	ev := NewNotificationEvent(model.Notification{
		UserID:             "u1",
		Kind:               model.NotifyPromoted,
		InstanceID:         "inst-1",
		BookingID:          "b-1",
		StartsAt:           &starts,
		PromotionExpiresAt: &expires,
		OccurredAt:         starts.Add(-48 * time.Hour),
	})
	if ev.EventID == "" {
		t.Fatal("expected an event id")
	}
	if ev.Kind != "promoted" || ev.StartsAt != "2026-03-04T18:30:00Z" || ev.PromotionExpiresAt != "2026-03-03T18:30:00Z" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	line := ev.Line()
	for _, want := range []string{"promoted", "user_id=u1", "booking_id=b-1", "promotion_expires_at=2026-03-03T18:30:00Z"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q misses %q", line, want)
		}
	}
	if strings.Contains(line, "reason=") {
		t.Fatalf("empty fields should be omitted: %q", line)
	}
}

func TestAppendNotification(t *testing.T) {
	dir := t.TempDir()
	body, _ := json.Marshal(NewNotificationEvent(model.Notification{
		UserID: "u1", Kind: model.NotifySeatFreed, InstanceID: "inst-1", CreditRefunded: true,
	}))

	for i := 0; i < 2; i++ {
		if err := AppendNotification(dir, body); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, NotificationLogFile))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "credit_refunded=true") {
		t.Fatalf("unexpected log contents: %q", data)
	}

	if err := AppendNotification(dir, []byte("{")); err == nil {
		t.Fatal("expected error for malformed body")
	}
	if err := AppendNotification(dir, []byte(`{"kind":"promoted"}`)); err == nil {
		t.Fatal("expected error for notification without user")
	}
}
