package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
)

func TestHub_MailboxDeliveredOnce(t *testing.T) {
	hub := NewHub()
	hub.Notify("dev-1", New(domain.NotifyInfo, "Account required", "Sign up to finish"))

	sub := hub.Subscribe("dev-1")
	defer hub.Unsubscribe(sub)

	select {
	case n := <-sub.C():
		if n.Title != "Account required" {
			t.Fatalf("unexpected notification %+v", n)
		}
	default:
		t.Fatal("mailbox not delivered on subscribe")
	}

	if got := hub.Pending("dev-1"); len(got) != 0 {
		t.Fatalf("mailbox not cleared: %d left", len(got))
	}

	second := hub.Subscribe("dev-1")
	defer hub.Unsubscribe(second)
	select {
	case n := <-second.C():
		t.Fatalf("notification delivered twice: %+v", n)
	default:
	}
}

func TestHub_MailboxIsBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < MailboxSize+4; i++ {
		hub.Notify("dev-1", New(domain.NotifyInfo, strconv.Itoa(i), ""))
	}
	box := hub.Pending("dev-1")
	if len(box) != MailboxSize {
		t.Fatalf("mailbox size = %d, want %d", len(box), MailboxSize)
	}
	if box[0].Title != "4" {
		t.Fatalf("oldest kept = %q, want 4", box[0].Title)
	}
}

func TestHub_PruneDropsIdleMailboxes(t *testing.T) {
	hub := NewHub()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	hub.now = func() time.Time { return clock }

	for i := 0; i < 1000; i++ {
		hub.Notify("idle-"+strconv.Itoa(i), New(domain.NotifyInfo, "Account required", ""))
	}
	clock = start.Add(2 * time.Hour)
	hub.Notify("recent", New(domain.NotifyInfo, "Account required", ""))

	if n := hub.Prune(start.Add(time.Hour)); n != 1000 {
		t.Fatalf("pruned %d mailboxes, want 1000", n)
	}
	if got := len(hub.mailboxes); got != 1 {
		t.Fatalf("%d mailboxes retained, want 1", got)
	}
	if len(hub.Pending("recent")) != 1 {
		t.Fatal("recent mailbox was pruned")
	}
	if len(hub.Pending("idle-0")) != 0 {
		t.Fatal("idle mailbox survived prune")
	}
}

func TestHub_LiveSubscribersSkipMailbox(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("dev-1")
	b := hub.Subscribe("dev-1")
	other := hub.Subscribe("dev-2")

	hub.Notify("dev-1", New(domain.NotifySuccess, "Agent created", ""))

	for _, s := range []*Subscription{a, b} {
		select {
		case <-s.C():
		default:
			t.Fatal("subscriber missed notification")
		}
	}
	select {
	case n := <-other.C():
		t.Fatalf("other device received %+v", n)
	default:
	}
	if len(hub.Pending("dev-1")) != 0 {
		t.Fatal("notification stored despite live subscriber")
	}

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	hub.Unsubscribe(b)
	hub.Notify("dev-1", New(domain.NotifyError, "Failed", ""))
	if len(hub.Pending("dev-1")) != 1 {
		t.Fatal("notification not stored after all subscribers left")
	}
}

func TestWebSocketHandler_DeliversMailbox(t *testing.T) {
	hub := NewHub()
	hub.Notify("dev-1", New(domain.NotifySuccess, "Agent created", "Ava is live"))

	h := NewWebSocketHandler(hub, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithDeviceID(r.Context(), "dev-1")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n domain.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Kind != domain.NotifySuccess || n.Description != "Ava is live" {
		t.Fatalf("unexpected notification %+v", n)
	}
}
