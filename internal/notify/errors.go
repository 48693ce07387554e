package notify

import "fmt"

const (
	ChannelPush = "push"
	ChannelPoll = "poll"
)

// ChannelError is a failure of one discovery channel. It is logged and never
// returned to callers: the other channel covers for it.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
