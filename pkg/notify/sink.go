package notify

import (
	"context"

	"github.com/learnwatch/learnwatch/pkg/diff"
)

// Sink delivers a rendered message to a destination fixed at construction.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// ChangeSink is implemented by sinks that also want the structured change.
// Dispatchers call SendChange instead of Send when it is available.
type ChangeSink interface {
	Sink
	SendChange(ctx context.Context, c diff.Change, text string) error
}

// Deliver sends c through s, preferring the structured form.
func Deliver(ctx context.Context, s Sink, c diff.Change, text string) error {
	if cs, ok := s.(ChangeSink); ok {
		return cs.SendChange(ctx, c, text)
	}
	return s.Send(ctx, text)
}
