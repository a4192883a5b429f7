package alerts

import (
	"fmt"
	"strings"

	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

// Notifier delivers pipeline events to a human. Implementations must not
// block the caller; delivery is best effort and never gates execution.
type Notifier interface {
	Notify(ev domain.Event)
	Close()
}

// LogNotifier writes events to the structured log only. Used when Telegram
// is disabled and in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(ev domain.Event) {
	observ.Log("notify_"+string(ev.Kind), ev.Payload)
}

func (LogNotifier) Close() {}

// FormatEvent renders an event as a short human-readable message.
func FormatEvent(ev domain.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case domain.EventSignalFound:
		b.WriteString("Signal: ")
	case domain.EventOrderFilled:
		b.WriteString("Filled: ")
	case domain.EventPositionClosed:
		b.WriteString("Closed: ")
	case domain.EventPositionUpdate:
		b.WriteString("Update: ")
	case domain.EventRiskTripped:
		b.WriteString("RISK: ")
	case domain.EventEmergencyStop:
		b.WriteString("EMERGENCY STOP: ")
	case domain.EventNoTrade:
		b.WriteString("No trade: ")
	default:
		b.WriteString(string(ev.Kind) + ": ")
	}

	if sym, ok := ev.Payload["symbol"].(string); ok {
		b.WriteString(sym)
	}
	for _, k := range []string{"reason", "state", "quantity", "price", "pnl", "pnl_percent"} {
		if v, ok := ev.Payload[k]; ok {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	b.WriteString(" at " + ev.Timestamp.Format("15:04:05"))
	return b.String()
}
