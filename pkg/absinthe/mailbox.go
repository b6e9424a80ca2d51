package absinthe

import (
	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// Mailbox is where a registered caller's Reply and Message events arrive
// (spec.md §5 "Callers receive their own copies of Reply and Message
// events"). A Go realization needs an explicit delivery point per caller —
// the actor model's implicit per-process mailbox doesn't exist natively —
// so a caller must Session.Register before issuing ref-tagged pushes.
type Mailbox struct {
	Replies  <-chan types.Reply
	Messages <-chan types.Message
}

// mailbox is the Session-owned, writable counterpart to Mailbox.
type mailbox struct {
	replies  chan types.Reply
	messages chan types.Message
}

func newMailbox(bufferSize int) *mailbox {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &mailbox{
		replies:  make(chan types.Reply, bufferSize),
		messages: make(chan types.Message, bufferSize),
	}
}

func (m *mailbox) public() *Mailbox {
	return &Mailbox{Replies: m.replies, Messages: m.messages}
}

// deliverReply is best-effort: a full mailbox drops the reply rather than
// blocking the session's single actor goroutine. A caller that cares about
// every reply should size its buffer generously at Register time.
func (m *mailbox) deliverReply(r types.Reply) {
	select {
	case m.replies <- r:
	default:
	}
}

func (m *mailbox) deliverMessage(msg types.Message) {
	select {
	case m.messages <- msg:
	default:
	}
}
