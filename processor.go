package mrpc

import (
	"context"
)

// Processor handles requests for one interest: the name of the request type
// it wants to receive. HandleRequest replies through call.SendResponse,
// either before returning or later from another goroutine.
type Processor interface {
	Interest() string
	HandleRequest(ctx context.Context, call *Call)
}

type processorFunc struct {
	interest string
	handle   func(context.Context, *Call)
}

func (p processorFunc) Interest() string {
	return p.interest
}

func (p processorFunc) HandleRequest(ctx context.Context, call *Call) {
	p.handle(ctx, call)
}

// ProcessorFunc adapts fn into a Processor for interest.
func ProcessorFunc(interest string, fn func(context.Context, *Call)) Processor {
	return processorFunc{interest: interest, handle: fn}
}
