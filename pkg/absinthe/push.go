package absinthe

import (
	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// pushRecord is created for every outbound document or control message
// (spec.md §3). A pushRecord is, at any moment, in exactly one of: pending,
// in-flight, or (if it created a subscription) active — invariant 1.
type pushRecord struct {
	event string // eventDoc or eventUnsubscribe

	// doc payload fields, set when event == eventDoc.
	query     string
	variables map[string]interface{}

	// unsubscribe payload field, set when event == eventUnsubscribe.
	unsubscribeID string

	owner types.CallerID
	ref   types.Ref

	// transmitCount counts how many times this record has been sent on the
	// wire. 0 when newly enqueued, >=1 once transmitted (invariant 5). Used
	// to suppress duplicate reply forwarding on replays (spec.md §4.3).
	transmitCount int
}

func (p *pushRecord) payload() []byte {
	switch p.event {
	case eventDoc:
		return marshalDoc(p.query, p.variables)
	case eventUnsubscribe:
		return marshalUnsubscribe(p.unsubscribeID)
	default:
		return nil
	}
}

// inFlightTable maps server-push-ref to the pushRecord awaiting its reply
// (spec.md §4.3). Server-push-refs are invalidated by every reconnect, so
// this table is always empty while the channel isn't joined (invariant 2).
type inFlightTable struct {
	entries map[string]*pushRecord
}

func newInFlightTable() *inFlightTable {
	return &inFlightTable{entries: make(map[string]*pushRecord)}
}

func (t *inFlightTable) put(ref string, pr *pushRecord) {
	t.entries[ref] = pr
}

func (t *inFlightTable) pop(ref string) (*pushRecord, bool) {
	pr, ok := t.entries[ref]
	if ok {
		delete(t.entries, ref)
	}
	return pr, ok
}

func (t *inFlightTable) empty() bool {
	return len(t.entries) == 0
}

func (t *inFlightTable) clear() {
	t.entries = make(map[string]*pushRecord)
}

func (t *inFlightTable) len() int {
	return len(t.entries)
}
