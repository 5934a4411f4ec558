package notify

import "context"

// MessageRef identifies one delivered broadcast so it can later be edited
// or withdrawn.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// Action is an opaque labeled callback rendered under a message. The data
// string comes back through the inbound action source as "actor pressed X
// for order Y".
type Action struct {
	Text string
	Data string
}

// Gateway delivers, edits and deletes messages on chat channels. Delivery is
// best-effort; the engine never holds a transaction open across a call.
type Gateway interface {
	Send(ctx context.Context, chatID, text string, actions []Action) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, actions []Action) error
	Delete(ctx context.Context, ref MessageRef) error
}
