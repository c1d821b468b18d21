package broker

import "errors"

var (
	// ErrClosed is returned when operations are attempted on a closed broker.
	ErrClosed = errors.New("broker: closed")

	// ErrNotSubscribed is returned when Unsubscribe is called twice, or
	// for a topic the broker never subscribed.
	ErrNotSubscribed = errors.New("broker: not subscribed")
)
