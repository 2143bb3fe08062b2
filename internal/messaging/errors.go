package messaging

import "errors"

var (
	// ErrNotAuthenticated is returned when an operation needs a private key
	// and none was configured.
	ErrNotAuthenticated = errors.New("no private key configured")

	// ErrNoRelays is returned when neither discovery nor configuration
	// yields a single relay to talk to.
	ErrNoRelays = errors.New("no relays available")

	// ErrPublishFailed is returned when every relay rejected a message.
	ErrPublishFailed = errors.New("publish failed on all relays")
)
