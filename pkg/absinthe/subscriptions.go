package absinthe

import (
	"github.com/CargoSense/absinthe-client-sub000/pkg/absinthe/types"
)

// subscriptionRegistry maps subscription_id -> the originating "doc"
// pushRecord, and owner -> set of subscription_id (spec.md §3, §4.4).
type subscriptionRegistry struct {
	byID     map[string]*pushRecord
	byCaller map[types.CallerID]map[string]struct{}
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		byID:     make(map[string]*pushRecord),
		byCaller: make(map[types.CallerID]map[string]struct{}),
	}
}

// record inserts a new active subscription, per a successful "doc" reply
// that carried a subscriptionId (spec.md §4.4 "Record subscription").
func (r *subscriptionRegistry) record(subID string, pr *pushRecord) {
	r.byID[subID] = pr
	set, ok := r.byCaller[pr.owner]
	if !ok {
		set = make(map[string]struct{})
		r.byCaller[pr.owner] = set
	}
	set[subID] = struct{}{}
}

// drop removes a single subscription from both maps (spec.md §4.4 "Drop
// subscription").
func (r *subscriptionRegistry) drop(subID string) (*pushRecord, bool) {
	pr, ok := r.byID[subID]
	if !ok {
		return nil, false
	}
	delete(r.byID, subID)
	if set, ok := r.byCaller[pr.owner]; ok {
		delete(set, subID)
		if len(set) == 0 {
			delete(r.byCaller, pr.owner)
		}
	}
	return pr, true
}

// lookup finds the pushRecord that created subID, for routing inbound
// subscription:data frames (spec.md §4.7).
func (r *subscriptionRegistry) lookup(subID string) (*pushRecord, bool) {
	pr, ok := r.byID[subID]
	return pr, ok
}

// idsForCaller returns every active subscription id owned by caller, for
// unsubscribe-all and owner-death cleanup (spec.md §4.8).
func (r *subscriptionRegistry) idsForCaller(caller types.CallerID) []string {
	set, ok := r.byCaller[caller]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// all returns every (subID, pushRecord) pair, used by the replay engine to
// move every active subscription back into the pending queue on disconnect.
func (r *subscriptionRegistry) all() []struct {
	id string
	pr *pushRecord
} {
	out := make([]struct {
		id string
		pr *pushRecord
	}, 0, len(r.byID))
	for id, pr := range r.byID {
		out = append(out, struct {
			id string
			pr *pushRecord
		}{id, pr})
	}
	return out
}

func (r *subscriptionRegistry) clear() {
	r.byID = make(map[string]*pushRecord)
	r.byCaller = make(map[types.CallerID]map[string]struct{})
}

func (r *subscriptionRegistry) len() int {
	return len(r.byID)
}
