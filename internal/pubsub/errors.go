package pubsub

import "errors"

var (
	ErrClosed     = errors.New("pubsub: closed")
	ErrEmptyTopic = errors.New("pubsub: empty topic")
	ErrNilMessage = errors.New("pubsub: nil message")
)
