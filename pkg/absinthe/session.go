package absinthe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// join-wait retry parameters for PushSync (spec.md §4.8): 5 attempts at
// 150ms each before failing with NotJoined.
const (
	joinWaitAttempts = 5
	joinWaitInterval = 150 * time.Millisecond
)

type cmdKind int

const (
	cmdKindRegister cmdKind = iota
	cmdKindDeregister
	cmdKindPushAsync
	cmdKindPushSyncAttempt
	cmdKindUnsubscribeAll
	cmdKindStats
)

// cmd is a tagged-union command posted to the Session's actor goroutine.
// Only the fields relevant to its kind are populated.
type cmd struct {
	kind cmdKind

	query     string
	variables map[string]interface{}
	caller    types.CallerID
	ref       types.Ref
	bufSize   int

	mailboxCh     chan *mailbox
	asyncAckCh    chan asyncAck
	syncAttemptCh chan syncAttempt
	unsubCh       chan error
	statsCh       chan Stats
}

type asyncAck struct {
	ref types.Ref
	err error
}

type syncAttempt struct {
	submitted bool
	waiter    chan types.PushOutcome
	err       error
}

// run is the Session's single actor goroutine: every mutation to joined,
// inFlight, subs, pending, waiters, and mailboxes happens here, so none of
// them need a mutex (spec.md §5).
func (s *Session) run() {
	defer s.drainWaiters(ErrShutdown)

	for {
		select {
		case <-s.ownerCtx.Done():
			s.drainWaiters(ErrOwnerDown)
			return
		case <-s.done:
			return
		case ev, ok := <-s.conn.events:
			if !ok {
				return
			}
			s.handleTransportEvent(ev)
		case c := <-s.cmds:
			s.handleCmd(c)
		}
	}
}

func (s *Session) drainWaiters(reason error) {
	for ref, waiter := range s.waiters {
		waiter <- types.PushOutcome{Err: reason}
		delete(s.waiters, ref)
	}
}

func (s *Session) handleTransportEvent(ev transportEvent) {
	switch ev.kind {
	case evConnected:
		s.joined = false
		s.transmitJoin()
	case evDisconnected:
		s.logger.Info("transport disconnected, will reconnect", zap.Error(ev.err))
		s.handleDisconnected(ev.err)
	case evFrame:
		s.dispatchFrame(ev.fr)
	case evFatal:
		s.logger.Error("connection driver stopped", zap.Error(ev.err))
		s.drainWaiters(ev.err)
	}
}

func (s *Session) handleCmd(c cmd) {
	switch c.kind {
	case cmdKindRegister:
		mb := newMailbox(c.bufSize)
		s.mailboxes[c.caller] = mb
		c.mailboxCh <- mb

	case cmdKindDeregister:
		s.clearCaller(c.caller, nil)
		delete(s.mailboxes, c.caller)

	case cmdKindPushAsync:
		pr := &pushRecord{event: eventDoc, query: c.query, variables: c.variables, owner: c.caller, ref: c.ref}
		s.enqueueOrTransmit(pr)
		ref := c.ref
		if ref == nil {
			ref = fmt.Sprintf("push-%s", s.refs.next())
		}
		c.asyncAckCh <- asyncAck{ref: ref}

	case cmdKindPushSyncAttempt:
		if !s.joined {
			c.syncAttemptCh <- syncAttempt{submitted: false}
			return
		}
		pr := &pushRecord{event: eventDoc, query: c.query, variables: c.variables, owner: c.caller, ref: c.ref}
		wireRef, err := s.transmit(pr)
		if err != nil {
			c.syncAttemptCh <- syncAttempt{submitted: false}
			return
		}
		waiter := make(chan types.PushOutcome, 1)
		s.waiters[wireRef] = waiter
		c.syncAttemptCh <- syncAttempt{submitted: true, waiter: waiter}

	case cmdKindUnsubscribeAll:
		s.clearCaller(c.caller, c.ref)
		c.unsubCh <- nil

	case cmdKindStats:
		c.statsCh <- Stats{
			ChannelJoined:       s.joined,
			InFlight:            s.inFlight.len(),
			ActiveSubscriptions: s.subs.len(),
			Pending:             s.pending.len(),
			Callers:             len(s.mailboxes),
		}
	}
}

// transmit sends pr immediately on the control channel and records it in
// the in-flight table, bumping transmitCount (spec.md §4.3, invariant 5).
func (s *Session) transmit(pr *pushRecord) (string, error) {
	ref := s.refs.next()
	var joinRefPtr *string
	if s.joinRef != "" {
		joinRefPtr = &s.joinRef
	}
	fr := &frame{
		JoinRef: joinRefPtr,
		PushRef: &ref,
		Topic:   ControlTopic,
		Event:   pr.event,
		Payload: pr.payload(),
	}
	if err := s.conn.send(s.ownerCtx, fr); err != nil {
		return "", err
	}
	pr.transmitCount++
	s.inFlight.put(ref, pr)
	return ref, nil
}

// transmitJoin sends the control channel's phx_join and records it in the
// in-flight table under its own ref, which becomes every subsequent frame's
// join_ref (spec.md §4.2).
func (s *Session) transmitJoin() {
	ref := s.refs.next()
	fr := &frame{
		JoinRef: &ref,
		PushRef: &ref,
		Topic:   ControlTopic,
		Event:   eventPhxJoin,
		Payload: json.RawMessage(`{}`),
	}
	if err := s.conn.send(s.ownerCtx, fr); err != nil {
		s.logger.Warn("failed to send phx_join", zap.Error(err))
		return
	}
	s.joinRef = ref
	join := &pushRecord{event: eventPhxJoin}
	join.transmitCount++
	s.inFlight.put(ref, join)
}

// enqueueOrTransmit transmits pr immediately if the channel is joined,
// otherwise buffers it in the pending queue to be drained on join (spec.md
// §4.2, §4.5).
func (s *Session) enqueueOrTransmit(pr *pushRecord) {
	if s.joined {
		if _, err := s.transmit(pr); err == nil {
			return
		}
	}
	s.pending.enqueue(pr)
}

// drainPending transmits every queued push in order once the channel joins
// (spec.md §4.5). A push that fails to transmit (e.g. the socket dropped
// again mid-drain) goes back on the queue for the next join.
func (s *Session) drainPending() {
	items := s.pending.drain()
	for _, pr := range items {
		if _, err := s.transmit(pr); err != nil {
			s.pending.enqueue(pr)
		}
	}
}

// clearCaller emits one unsubscribe push per subscription caller owns and
// drops the local registry entries (spec.md §4.4, §4.8). Used by both
// UnsubscribeAll (ref may be set, for correlation) and caller-down cleanup
// (ref is nil).
func (s *Session) clearCaller(caller types.CallerID, ref types.Ref) {
	for _, id := range s.subs.idsForCaller(caller) {
		if _, ok := s.subs.drop(id); ok {
			unsub := &pushRecord{event: eventUnsubscribe, unsubscribeID: id, owner: caller, ref: ref}
			s.enqueueOrTransmit(unsub)
		}
	}
	// Subscriptions parked in the pending queue for replay after a
	// disconnect have no live server-side subscription; drop them so they
	// are not re-subscribed on the next join.
	kept := s.pending.items[:0]
	for _, pr := range s.pending.items {
		if pr.event == eventDoc && pr.owner == caller && pr.transmitCount > 0 {
			continue
		}
		kept = append(kept, pr)
	}
	s.pending.items = kept
}

// PushAsync submits a document without waiting for its reply. If ref is
// non-nil, the reply (and any subsequent subscription data) is delivered to
// caller's Mailbox; caller must already be Registered. Returns the ref used
// to correlate events — either the one supplied, or an internally
// generated informational token when ref is nil (spec.md §4.8).
func (s *Session) PushAsync(ctx context.Context, query string, variables map[string]interface{}, caller types.CallerID, ref types.Ref) (types.Ref, error) {
	ackCh := make(chan asyncAck, 1)
	c := cmd{kind: cmdKindPushAsync, query: query, variables: variables, caller: caller, ref: ref, asyncAckCh: ackCh}
	if err := s.submit(ctx, c); err != nil {
		return nil, err
	}
	select {
	case ack := <-ackCh:
		return ack.ref, ack.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PushSync submits a document and blocks until its first reply arrives, a
// join-wait retry budget (5 attempts at 150ms) is exhausted, or timeout
// elapses. timeout <= 0 uses Config.ReceiveTimeout (spec.md §4.8).
func (s *Session) PushSync(ctx context.Context, query string, variables map[string]interface{}, caller types.CallerID, ref types.Ref, timeout time.Duration) (types.Reply, error) {
	if timeout <= 0 {
		timeout = s.cfg.receiveTimeout()
	}

	for attempt := 0; attempt < joinWaitAttempts; attempt++ {
		attemptCh := make(chan syncAttempt, 1)
		c := cmd{kind: cmdKindPushSyncAttempt, query: query, variables: variables, caller: caller, ref: ref, syncAttemptCh: attemptCh}
		if err := s.submit(ctx, c); err != nil {
			return types.Reply{}, err
		}

		var res syncAttempt
		select {
		case res = <-attemptCh:
		case <-ctx.Done():
			return types.Reply{}, ctx.Err()
		}

		if res.submitted {
			select {
			case outcome := <-res.waiter:
				return outcome.Reply, outcome.Err
			case <-time.After(timeout):
				return types.Reply{}, WrapError("PushSync", ErrTimeout, "no reply within timeout")
			case <-ctx.Done():
				return types.Reply{}, ctx.Err()
			}
		}

		if attempt < joinWaitAttempts-1 {
			select {
			case <-time.After(joinWaitInterval):
			case <-ctx.Done():
				return types.Reply{}, ctx.Err()
			}
		}
	}
	return types.Reply{}, WrapError("PushSync", ErrNotJoined, "control channel did not join in time")
}

// UnsubscribeAll unsubscribes every active subscription owned by caller. If
// ref is non-nil, the resulting unsubscribe replies carry it so the caller
// can correlate them (spec.md §4.8). Calling it twice in a row is a no-op
// the second time: by then caller owns no subscriptions.
func (s *Session) UnsubscribeAll(ctx context.Context, caller types.CallerID, ref types.Ref) error {
	doneCh := make(chan error, 1)
	c := cmd{kind: cmdKindUnsubscribeAll, caller: caller, ref: ref, unsubCh: doneCh}
	if err := s.submit(ctx, c); err != nil {
		return err
	}
	select {
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
