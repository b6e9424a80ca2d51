package absinthe

import (
	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// handleDisconnected reacts to the transport going down (spec.md §4.6): the
// control channel is no longer joined, every in-flight push is orphaned,
// and every active subscription moves back to the pending queue so it is
// re-pushed — with the server assigning it a fresh subscription id — the
// next time the channel joins. A push record's identity and transmitCount
// survive the move; only its wire push_ref is discarded with the in-flight
// table.
func (s *Session) handleDisconnected(reason error) {
	s.joined = false
	s.joinRef = ""

	for ref, waiter := range s.waiters {
		waiter <- types.PushOutcome{Err: WrapError("push", reason, "connection lost before reply")}
		delete(s.waiters, ref)
	}
	s.inFlight.clear()

	for _, entry := range s.subs.all() {
		s.pending.enqueue(entry.pr)
	}
	s.subs.clear()
}
