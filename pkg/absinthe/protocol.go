package absinthe

import "encoding/json"

// ControlTopic is the fixed Absinthe control channel topic joined once per
// (re)connect. All outbound documents and control messages travel on it.
const ControlTopic = "__absinthe__:control"

const (
	eventPhxJoin         = "phx_join"
	eventDoc             = "doc"
	eventUnsubscribe     = "unsubscribe"
	eventSubscriptionMsg = "subscription:data"

	statusOK    = "ok"
	statusError = "error"
)

// frame is the wire representation of one Absinthe/Phoenix channel message,
// per spec.md §6. JoinRef and PushRef are omitted (nil) where the protocol
// doesn't need them, e.g. on server-pushed subscription:data frames.
type frame struct {
	JoinRef *string         `json:"join_ref,omitempty"`
	PushRef *string         `json:"push_ref,omitempty"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// docParams is the payload of an outbound "doc" push.
type docParams struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// unsubscribeParams is the payload of an outbound "unsubscribe" push.
type unsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

// replyPayload is the payload of an inbound reply frame.
type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// docReplyResponse is the "response" field of a reply to a "doc" push that
// created a subscription.
type docReplyResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

// dataPayload is the payload of an inbound subscription:data frame.
type dataPayload struct {
	Result json.RawMessage `json:"result"`
}

func marshalDoc(query string, variables map[string]interface{}) json.RawMessage {
	b, _ := json.Marshal(docParams{Query: query, Variables: variables})
	return b
}

func marshalUnsubscribe(subscriptionID string) json.RawMessage {
	b, _ := json.Marshal(unsubscribeParams{SubscriptionID: subscriptionID})
	return b
}

// parseReply extracts status and, for a successful "doc" reply, the new
// subscription id (empty if absent).
func parseReply(payload json.RawMessage) (status string, subscriptionID string, raw json.RawMessage, err error) {
	var rp replyPayload
	if err := json.Unmarshal(payload, &rp); err != nil {
		return "", "", nil, err
	}
	if rp.Status == statusOK && len(rp.Response) > 0 {
		var dr docReplyResponse
		// Best-effort: non-doc replies won't have a subscriptionId field,
		// which is fine — Unmarshal just leaves it empty.
		_ = json.Unmarshal(rp.Response, &dr)
		subscriptionID = dr.SubscriptionID
	}
	return rp.Status, subscriptionID, rp.Response, nil
}

func parseDataPayload(payload json.RawMessage) (json.RawMessage, error) {
	var dp dataPayload
	if err := json.Unmarshal(payload, &dp); err != nil {
		return nil, err
	}
	return dp.Result, nil
}
