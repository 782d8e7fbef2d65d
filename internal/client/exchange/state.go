package exchange

import "fmt"

// State of one exchange.
type State int

const (
	Idle State = iota
	Sending
	AwaitingReply
	Rendering
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case AwaitingReply:
		return "awaiting_reply"
	case Rendering:
		return "rendering"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Call-order events reported to a Tracer.
const (
	EventUserLine      = "user_line"
	EventSend          = "send"
	EventReply         = "reply"
	EventAssistantLine = "assistant_line"
	EventReveal        = "reveal"
	EventRevealDone    = "reveal_done"
	EventPlay          = "play"
	EventFailureLine   = "failure_line"
	EventSuperseded    = "superseded"
)

// Tracer observes state transitions and call order. Implementations must be
// safe for concurrent use.
type Tracer interface {
	Transition(gen uint64, from, to State)
	Event(gen uint64, name string)
}

type nopTracer struct{}

func (nopTracer) Transition(uint64, State, State) {}
func (nopTracer) Event(uint64, string)            {}
