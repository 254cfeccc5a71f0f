package autoreply

// EventKind distinguishes the recognized inbound change types.
type EventKind string

const (
	EventMention EventKind = "mention"
	EventReply   EventKind = "reply"
)

// InboundEvent is a normalized platform notification: a mention of or a
// reply to one of the account's posts, carrying the media id needed to
// fetch full post context.
type InboundEvent struct {
	Kind      EventKind
	PostID    string
	Text      string
	Username  string
	Timestamp string
}

// CorrelationID returns the event id prefix shared by every audit record
// this event produces. Redeliveries of the same platform payload yield the
// same prefix, which is what lets the log viewer group them.
func (e InboundEvent) CorrelationID() string {
	return string(e.Kind) + "_" + e.PostID
}
