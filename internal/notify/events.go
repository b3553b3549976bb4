package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event names emitted by the round lifecycle. The notifier's allow-list is
// configured with these snake_case forms.
const (
	EventRoundResolved = "round_resolved"
	EventRoundStarted  = "round_started"
	EventPassErrors    = "pass_errors"
	EventError         = "error"
)

// Bridge adapts the Notifier to domain.Broadcaster so round events flow to
// chat channels through the same fan-out as realtime subscribers. Delivery is
// fire-and-forget on a fresh goroutine; a slow webhook never stalls a pass.
type Bridge struct {
	notifier *Notifier
	timeout  time.Duration
}

// NewBridge wraps a Notifier as an event broadcaster.
func NewBridge(n *Notifier) *Bridge {
	return &Bridge{notifier: n, timeout: 15 * time.Second}
}

// Broadcast translates a lifecycle event into a notification. Unknown events
// pass through under the generic error title.
func (b *Bridge) Broadcast(event string, payload any) {
	title, eventName := describe(event)
	message := renderPayload(payload)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		_ = b.notifier.Notify(ctx, eventName, title, message)
	}()
}

func describe(event string) (title, eventName string) {
	switch event {
	case "round:resolved":
		return "Round resolved", EventRoundResolved
	case "round:started":
		return "Round started", EventRoundStarted
	case "pass:errors":
		return "Pass completed with errors", EventPassErrors
	default:
		return event, EventError
	}
}

// renderPayload flattens a map payload into "key: value" lines; anything else
// is JSON-encoded as-is.
func renderPayload(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		lines := make([]string, 0, len(m))
		for k, v := range m {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v))
		}
		return strings.Join(lines, "\n")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(body)
}
