// Package absinthe implements a client-side subscription session manager
// for GraphQL over the Absinthe/Phoenix channel-multiplexed WebSocket
// protocol (spec.md §1). Session is the core: it establishes and
// re-establishes a WebSocket session, joins the fixed control channel,
// tracks in-flight pushes, routes subscription data, and replays active
// subscriptions transparently across reconnects.
package absinthe

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// Stats is a read-only snapshot of a Session's internal registries, useful
// for observability — grounded on the teacher SDK's GetConfig()/
// GetCurrentOperation() read-accessor convention (pkg/mythic/client.go)
// applied to the session's state instead of authentication state.
type Stats struct {
	ChannelJoined      bool
	InFlight           int
	ActiveSubscriptions int
	Pending            int
	Callers            int
}

// Session is the subscription session manager described in spec.md §2. All
// mutable state is owned by one goroutine (run); callers interact with it
// exclusively through PushAsync, PushSync, UnsubscribeAll, Register, and
// Deregister, each of which posts a command and waits for the actor's
// acknowledgement.
type Session struct {
	cfg    *Config
	logger *zap.Logger

	conn *connectionDriver
	cmds chan cmd

	ownerCtx context.Context

	done      chan struct{}
	closeOnce sync.Once

	// actor-owned state below; touched only inside run().
	joined   bool
	joinRef  string
	refs     refCounter
	inFlight *inFlightTable
	subs     *subscriptionRegistry
	pending  *pendingQueue
	waiters  map[string]chan types.PushOutcome
	mailboxes map[types.CallerID]*mailbox
}

// NewSession creates a Session and starts its actor goroutine and
// connection driver. ownerCtx models the session's owner (spec.md §4.8,
// §9): when it is cancelled, the session shuts down (OwnerDown). The
// session begins connecting immediately.
func NewSession(ownerCtx context.Context, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapError("NewSession", err, "invalid configuration")
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}

	s := &Session{
		cfg:       cfg,
		logger:    cfg.logger(),
		conn:      newConnectionDriver(cfg),
		cmds:      make(chan cmd),
		ownerCtx:  ownerCtx,
		done:      make(chan struct{}),
		inFlight:  newInFlightTable(),
		subs:      newSubscriptionRegistry(),
		pending:   newPendingQueue(),
		waiters:   make(map[string]chan types.PushOutcome),
		mailboxes: make(map[types.CallerID]*mailbox),
	}

	go s.conn.run(ownerCtx)
	go s.run()

	return s, nil
}

// Register gives caller a Mailbox to receive its Reply and Message events.
// It must be called before issuing any ref-tagged push for that caller
// (spec.md §5, "callers receive their own copies of Reply and Message
// events").
func (s *Session) Register(caller types.CallerID, bufferSize int) (*Mailbox, error) {
	resultCh := make(chan *mailbox, 1)
	c := cmd{kind: cmdKindRegister, caller: caller, bufSize: bufferSize, mailboxCh: resultCh}
	if err := s.submit(context.Background(), c); err != nil {
		return nil, err
	}
	mb := <-resultCh
	return mb.public(), nil
}

// Deregister drops caller's mailbox and, best-effort, unsubscribes every
// subscription it owns (spec.md §4.4, "Drop subscription ... on
// caller-down").
func (s *Session) Deregister(caller types.CallerID) {
	c := cmd{kind: cmdKindDeregister, caller: caller}
	_ = s.submit(context.Background(), c)
}

// Stats returns a snapshot of the session's internal registries.
func (s *Session) Stats() Stats {
	resultCh := make(chan Stats, 1)
	c := cmd{kind: cmdKindStats, statsCh: resultCh}
	if err := s.submit(context.Background(), c); err != nil {
		return Stats{}
	}
	return <-resultCh
}

// Close shuts the session down explicitly, disconnecting the transport and
// stopping the actor goroutine. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.disconnect()
	})
	return nil
}

// submit posts a command to the actor and waits for it to be accepted (not
// for the operation's eventual outcome — that arrives on the command's own
// reply channel, if any). Returns ErrShutdown if the session has already
// shut down.
func (s *Session) submit(ctx context.Context, c cmd) error {
	select {
	case s.cmds <- c:
		return nil
	case <-s.done:
		return ErrShutdown
	case <-s.ownerCtx.Done():
		return ErrOwnerDown
	case <-ctx.Done():
		return ctx.Err()
	}
}
