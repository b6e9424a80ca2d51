package absinthe

import (
	"go.uber.org/zap"

	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// dispatchFrame routes an inbound frame to reply or data handling (spec.md
// §4.3, §4.7). A subscription:data event always names its subscription id
// as the topic; anything else carrying a push_ref is a reply to one of our
// own outbound pushes (including the control channel's own phx_join).
func (s *Session) dispatchFrame(fr *frame) {
	switch fr.Event {
	case eventSubscriptionMsg:
		s.handleDataFrame(fr)
	default:
		if fr.PushRef != nil {
			s.handleReplyFrame(fr)
			return
		}
		s.logger.Warn("dropping frame with no push ref", zap.String("event", fr.Event), zap.String("topic", fr.Topic))
	}
}

// handleReplyFrame resolves the in-flight push named by the frame's
// push_ref (spec.md §4.3). An unmatched ref is logged and dropped
// (invariant: a reply can only ever name a push this session itself sent).
func (s *Session) handleReplyFrame(fr *frame) {
	ref := *fr.PushRef
	pr, ok := s.inFlight.pop(ref)
	if !ok {
		s.logger.Warn("reply for unknown push ref", zap.String("ref", ref))
		return
	}

	status, subID, payload, err := parseReply(fr.Payload)
	if err != nil {
		s.logger.Warn("malformed reply payload", zap.Error(err))
		return
	}

	if pr.event == eventPhxJoin {
		if status != statusOK {
			s.logger.Warn("control channel join rejected", zap.String("status", status))
			return
		}
		s.joined = true
		s.drainPending()
		return
	}

	reply := types.Reply{Event: pr.event, Status: status, Payload: payload, CallerRef: pr.ref, PushRef: ref}

	// A synchronous waiter always owns delivery of its own push's reply.
	// Otherwise, forward to the owner's mailbox, but only on the first
	// transmission: a replayed push's reply must not re-notify a caller
	// who has already seen this subscription come up once (spec.md §4.3,
	// §4.6, invariant on transmit_count).
	if waiter, ok := s.waiters[ref]; ok {
		delete(s.waiters, ref)
		waiter <- types.PushOutcome{Reply: reply}
	} else if pr.ref != nil && pr.transmitCount == 1 {
		if mb, ok := s.mailboxes[pr.owner]; ok {
			mb.deliverReply(reply)
		}
	}

	if pr.event == eventDoc && status == statusOK && subID != "" {
		s.subs.record(subID, pr)
	}
	// An unsubscribe reply, or a doc reply that never yielded a
	// subscription id, is discarded here: nothing further tracks it.
}

// handleDataFrame delivers subscription data to its owner's mailbox
// (spec.md §4.7). An unmatched subscription id is logged and dropped —
// it can arrive briefly after an UnsubscribeAll raced the server's last
// publish.
func (s *Session) handleDataFrame(fr *frame) {
	pr, ok := s.subs.lookup(fr.Topic)
	if !ok {
		s.logger.Warn("data for unknown subscription", zap.String("subscriptionId", fr.Topic))
		return
	}

	result, err := parseDataPayload(fr.Payload)
	if err != nil {
		s.logger.Warn("malformed subscription data payload", zap.Error(err))
		return
	}

	msg := types.Message{Topic: fr.Topic, Event: eventSubscriptionMsg, Payload: result, CallerRef: pr.ref}
	if mb, ok := s.mailboxes[pr.owner]; ok {
		mb.deliverMessage(msg)
	}
}
