package absinthe

import (
	"fmt"
	"net/url"
	"sync/atomic"
)

// buildDialURL merges params into the query string of base, re-evaluated on
// every connect attempt so callers can refresh short-lived credentials
// (spec.md §4.1, "Configuration option effects").
func buildDialURL(base string, params map[string]interface{}) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// refCounter generates monotonically increasing wire refs (join_ref,
// push_ref) scoped to one Session, grounded on the teacher's
// generateSubscriptionID (pkg/mythic/subscriptions.go), generalized from a
// one-off UUID call to a reusable counter since the session mints many refs
// over its lifetime.
type refCounter struct {
	n int64
}

func (c *refCounter) next() string {
	n := atomic.AddInt64(&c.n, 1)
	return fmt.Sprintf("%d", n)
}
