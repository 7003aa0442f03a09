package events

import (
	"errors"
	"testing"
)

func TestHubFansOutToEverySubscriber(t *testing.T) {
	h := NewHub(0)
	var a, b int
	h.OnOpenRequested(func() { a++ })
	unsub := h.OnOpenRequested(func() { b++ })

	if n := h.RequestOpen(); n != 2 {
		t.Fatalf("RequestOpen() reached %d, want 2", n)
	}
	unsub()
	h.RequestOpen()
	if a != 2 || b != 1 {
		t.Fatalf("calls a=%d b=%d, want 2/1", a, b)
	}
}

func TestHubPanickingSubscriberDoesNotBreakOthers(t *testing.T) {
	h := NewHub(0)
	var got []GuidanceRequest
	h.OnGuidanceRequested(func(GuidanceRequest) bool { panic("boom") })
	h.OnGuidanceRequested(func(GuidanceRequest) bool { return false })
	h.OnGuidanceRequested(func(r GuidanceRequest) bool {
		got = append(got, r)
		return true
	})

	req := GuidanceRequest{Title: "Police Emergency", Procedure: "Dial 100..."}
	if n := h.RequestGuidance(req); n != 1 {
		t.Fatalf("RequestGuidance() accepted by %d, want 1", n)
	}
	if len(got) != 1 || got[0] != req {
		t.Fatalf("guidance received = %+v", got)
	}
}

func TestHubNotifyKeepsBoundedRecentList(t *testing.T) {
	h := NewHub(2)
	var delivered []string
	h.OnNotification(func(n Notification) { delivered = append(delivered, n.Title) })

	for _, title := range []string{"one", "two", "three"} {
		if _, err := h.Notify(title, "msg", TypeSuccess); err != nil {
			t.Fatalf("Notify(%q) error = %v", title, err)
		}
	}
	recent := h.Recent()
	if len(recent) != 2 || recent[0].Title != "three" || recent[1].Title != "two" {
		t.Fatalf("Recent() = %+v", recent)
	}
	if len(delivered) != 3 {
		t.Fatalf("delivered %d notifications, want 3", len(delivered))
	}
	if h.UnreadCount() != 2 {
		t.Fatalf("UnreadCount() = %d, want 2", h.UnreadCount())
	}
	h.MarkAllRead()
	if h.UnreadCount() != 0 {
		t.Fatalf("UnreadCount() after MarkAllRead = %d", h.UnreadCount())
	}
	h.Clear()
	if len(h.Recent()) != 0 {
		t.Fatalf("Recent() after Clear not empty")
	}
}

func TestHubNotifyRequiresTitle(t *testing.T) {
	h := NewHub(0)
	if _, err := h.Notify("  ", "msg", TypeInfo); !errors.Is(err, ErrNotificationTitleRequired) {
		t.Fatalf("Notify() error = %v, want ErrNotificationTitleRequired", err)
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]NotificationType{
		"alert":   TypeAlert,
		"SUCCESS": TypeSuccess,
		"":        TypeInfo,
		"weird":   TypeInfo,
	}
	for raw, want := range cases {
		if got := ParseType(raw); got != want {
			t.Fatalf("ParseType(%q) = %q, want %q", raw, got, want)
		}
	}
}
