package handle

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LogObserver logs handle lifecycle events at debug level and keeps
// running counters.
type LogObserver struct {
	logger *zap.Logger
	stored atomic.Uint64
	freed  atomic.Uint64
}

// NewLogObserver creates an observer writing to logger.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnHandleEvent(e Event) {
	switch e.Type {
	case EventStored:
		o.stored.Add(1)
		o.logger.Debug("handle stored", zap.Stringer("handle", e.Handle), zap.Stringer("kind", e.Kind))
	case EventFreed:
		o.freed.Add(1)
		o.logger.Debug("handle freed", zap.Stringer("handle", e.Handle), zap.Stringer("kind", e.Kind))
	}
}

// Stored returns the number of handles stored since creation.
func (o *LogObserver) Stored() uint64 { return o.stored.Load() }

// Freed returns the number of handles freed since creation.
func (o *LogObserver) Freed() uint64 { return o.freed.Load() }
