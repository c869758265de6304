package agent

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

func (a *Agent) nextSeq() int64 {
	return atomic.AddInt64(&a.seq, 1)
}

// runTask executes handler to completion and reports the outcome as a
// Termination to notify, matching the agent's half of spec.md §4.2/§6.
func (a *Agent) runTask(ctx context.Context, handle string, handler TaskHandler, args, kwargs []byte, notify wire.Location) {
	result, err := handler(ctx, args, kwargs)

	a.mu.Lock()
	delete(a.running, handle)
	if a.ncoros > 0 {
		a.ncoros--
	}
	a.mu.Unlock()

	info := wire.TerminationInfo{Result: result}
	if err != nil {
		info.Err = err.Error()
	}

	term := wire.Termination{Handle: handle, Location: a.transport.Self(), Info: info}
	if sErr := a.transport.Send(notify, StatusReceiverServiceName+".Termination", term); sErr != nil {
		a.logger.Warn("agent: could not report termination", zap.String("handle", handle), zap.Error(sErr))
	}
}
