package domain

// AlertRequest is the sole output artifact of the matching core. It is
// handed to the dispatcher collaborator at most once per
// (subscriber, token, filter) triple per polling cycle; delivery and
// persistence are the dispatcher's responsibility.
type AlertRequest struct {
	ID           string      // unique request id
	SubscriberID string      // recipient
	Event        *TokenEvent // the matched token event
	FilterID     string      // the spec that matched
	CreatedAtMs  int64       // Unix ms at emission time
}
