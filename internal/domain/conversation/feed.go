package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/carebridge/carebridge/internal/platform/realtime"
)

// TypingObserver receives typing signals routed off the change feed.
// Declared here so the presence package can satisfy it without a cycle.
type TypingObserver interface {
	OnTypingSignal(sig TypingSignal)
}

// FeedRouter fans one conversation's change-feed events out to the session
// components: inserts and receipts to the tracker and list synchronizer,
// typing signals to the observer. Events it cannot decode are reported, not
// swallowed; the caller decides whether to resync.
type FeedRouter struct {
	tracker *Tracker
	list    *ListSynchronizer
	typing  TypingObserver
}

func NewFeedRouter(tracker *Tracker, list *ListSynchronizer, typing TypingObserver) *FeedRouter {
	return &FeedRouter{tracker: tracker, list: list, typing: typing}
}

// Apply routes a single event by op.
func (r *FeedRouter) Apply(evt realtime.Event) error {
	switch evt.Op {
	case "insert":
		var m Message
		if err := json.Unmarshal(evt.Data, &m); err != nil {
			return fmt.Errorf("decode insert event: %w", err)
		}
		if r.tracker != nil {
			r.tracker.OnRemoteInsert(&m)
		}
		if r.list != nil {
			r.list.OnMessageInsert(&m)
		}
	case "update":
		var receipt ReceiptEvent
		if err := json.Unmarshal(evt.Data, &receipt); err != nil {
			return fmt.Errorf("decode receipt event: %w", err)
		}
		if r.tracker != nil {
			r.tracker.OnReceipt(receipt)
		}
		if r.list != nil && receipt.Kind == "read" {
			r.list.OnMessagesRead(receipt.ConversationID, len(receipt.MessageIDs))
		}
	case "typing":
		var sig TypingSignal
		if err := json.Unmarshal(evt.Data, &sig); err != nil {
			return fmt.Errorf("decode typing event: %w", err)
		}
		if r.typing != nil {
			r.typing.OnTypingSignal(sig)
		}
	default:
		// Reminder and future ops are not this router's concern.
	}
	return nil
}
