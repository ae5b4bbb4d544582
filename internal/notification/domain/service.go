package domain

import "context"

// Publisher delivers an outbox message to collaborators.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Notifier wakes the dispatcher after a commit that wrote outbox rows.
type Notifier interface {
	Kick()
}
