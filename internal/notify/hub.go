// Package notify delivers one-shot notifications to a visitor's open pages.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voicedesk/internal/domain"
)

// MailboxSize is how many undelivered notifications a device keeps.
const MailboxSize = 16

const subscriberBuffer = 32

// Notifier publishes notifications for a device.
type Notifier interface {
	Notify(deviceID string, n domain.Notification)
}

// New builds a notification stamped with a fresh id and the current time.
func New(kind domain.NotificationKind, title, description string) domain.Notification {
	return domain.Notification{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// Subscription receives notifications for one open socket.
type Subscription struct {
	deviceID string
	ch       chan domain.Notification
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan domain.Notification {
	return s.ch
}

type mailbox struct {
	items   []domain.Notification
	written time.Time
}

// Hub fans notifications out to subscribed sockets, or holds them in a
// per-device mailbox until the next subscribe. Mailboxes of devices that
// never connect are dropped by Prune.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	mailboxes map[string]*mailbox
	now       func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		mailboxes: make(map[string]*mailbox),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify implements Notifier.
func (h *Hub) Notify(deviceID string, n domain.Notification) {
	if deviceID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[deviceID]
	if len(subs) == 0 {
		box, ok := h.mailboxes[deviceID]
		if !ok {
			box = &mailbox{}
			h.mailboxes[deviceID] = box
		}
		box.items = append(box.items, n)
		if len(box.items) > MailboxSize {
			box.items = box.items[len(box.items)-MailboxSize:]
		}
		box.written = h.now()
		return
	}
	for s := range subs {
		select {
		case s.ch <- n:
		default:
			slog.Warn("Notification dropped, subscriber is full", "device_id", deviceID, "notification_id", n.ID)
		}
	}
}

// Subscribe registers a socket for deviceID. Mailbox contents are handed to
// this subscription and removed from the mailbox.
func (h *Hub) Subscribe(deviceID string) *Subscription {
	s := &Subscription{deviceID: deviceID, ch: make(chan domain.Notification, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if box, ok := h.mailboxes[deviceID]; ok {
		for _, n := range box.items {
			s.ch <- n
		}
		delete(h.mailboxes, deviceID)
	}

	if _, ok := h.subs[deviceID]; !ok {
		h.subs[deviceID] = make(map[*Subscription]struct{})
	}
	h.subs[deviceID][s] = struct{}{}
	slog.Debug("Notification subscriber registered", "device_id", deviceID)
	return s
}

// Unsubscribe removes s. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[s.deviceID]
	if !ok {
		return
	}
	if _, exists := subs[s]; !exists {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.deviceID)
	}
	slog.Debug("Notification subscriber unregistered", "device_id", s.deviceID)
}

// Pending returns a copy of the undelivered notifications for deviceID.
func (h *Hub) Pending(deviceID string) []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.mailboxes[deviceID]
	if !ok {
		return nil
	}
	return append([]domain.Notification(nil), box.items...)
}

// Prune drops mailboxes last written before cutoff and returns how many
// were dropped.
func (h *Hub) Prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for deviceID, box := range h.mailboxes {
		if box.written.Before(cutoff) {
			delete(h.mailboxes, deviceID)
			dropped++
		}
	}
	return dropped
}
