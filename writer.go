package tracelog

import (
	"fmt"
	"strings"
)

// selfDescribingSlots is the number of leading payload entries that carry
// event metadata on ChannelSelfDescribing.
const selfDescribingSlots = 3

// WriteEvent writes one event with the given payload.
//
// Structured events (a valid handle and a non-zero descriptor id) are written
// to eh; on ChannelSelfDescribing the three leading metadata entries are
// dropped first. Anything else is written through the provider's raw-string
// fallback event, with the payload rendered into its single message
// parameter.
//
// Every writing path makes exactly one sink write. Failures are returned, not
// retried, so emission never holds up the caller.
func (p *Provider) WriteEvent(desc EventDescriptor, eh EventHandle, activityID, relatedActivityID *ActivityID, payload ...any) Status {
	if p.Handle() == 0 {
		return StatusNotRegistered
	}

	var status Status
	if eh != 0 && desc.ID != 0 {
		switch {
		case len(payload) == 0:
			status = p.sink.WriteEventData(eh, nil, activityID, relatedActivityID)
		case desc.Channel == ChannelSelfDescribing:
			n := len(payload) - selfDescribingSlots
			if n < 0 {
				assertf("self-describing event %d has %d payload entries, need at least %d", desc.ID, len(payload), selfDescribingSlots)
				return StatusInvalidPayload
			}
			status = p.sink.WriteEventData(eh, payload[selfDescribingSlots:], activityID, relatedActivityID)
		default:
			status = p.sink.WriteEventData(eh, payload, activityID, relatedActivityID)
		}
	} else {
		fh := p.FallbackHandle()
		if fh == 0 {
			return StatusInvalidHandle
		}
		status = p.sink.WriteEventData(fh, []any{rawMessage(payload)}, activityID, relatedActivityID)
	}

	if status != StatusOK {
		InternalLogger().Debug().Str("provider", p.name).Uint32("event_id", desc.ID).Stringer("status", status).Msg("event write failed")
	}
	return status
}

// WriteString writes msg through the raw-string fallback event.
func (p *Provider) WriteString(msg string) Status {
	return p.WriteEvent(EventDescriptor{}, 0, nil, nil, msg)
}

// rawMessage renders a payload as the single string parameter of the fallback
// event. A lone string is passed through unchanged.
func rawMessage(payload []any) string {
	if len(payload) == 1 {
		if s, ok := payload[0].(string); ok {
			return s
		}
	}

	var sb strings.Builder
	for i, v := range payload {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(stringify(v))
	}
	return sb.String()
}

// assertf reports a broken caller contract. It panics in builds tagged
// tracelog_debug and is silent otherwise; the caller still rejects the input.
func assertf(format string, args ...any) {
	if debugAssertions {
		panic(fmt.Sprintf("tracelog: assertion failed: "+format, args...))
	}
}
