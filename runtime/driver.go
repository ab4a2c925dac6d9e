package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/loader"
	"github.com/wippyai/tracehost/render"
)

// DefaultFrameRate is used when NewDriver gets a non-positive rate.
const DefaultFrameRate = 60

// Event is an input or load request delivered to the guest at the next frame.
type Event interface {
	deliver(ctx context.Context, d *Driver) error
}

type ResizeEvent struct{ Width, Height uint32 }

type MousePosEvent struct{ X, Y float32 }

type MouseButtonEvent struct {
	Button uint32
	Down   bool
}

type MouseWheelEvent struct{ DX, DY float32 }

type KeyEvent struct {
	Key  uint32
	Down bool
}

type FocusEvent struct{ Focused bool }

// LoadEvent starts a loading session for Source. The loader owns the
// source from then on, including when the request is rejected.
type LoadEvent struct {
	Source loader.Source
}

// CancelLoadEvent aborts the active loading session.
type CancelLoadEvent struct{}

func (e ResizeEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnResize(ctx, e.Width, e.Height)
}

func (e MousePosEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnMousePos(ctx, e.X, e.Y)
}

func (e MouseButtonEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnMouseButton(ctx, e.Button, e.Down)
}

func (e MouseWheelEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnMouseWheel(ctx, e.DX, e.DY)
}

func (e KeyEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnKey(ctx, e.Key, e.Down)
}

func (e FocusEvent) deliver(ctx context.Context, d *Driver) error {
	return d.inst.OnFocus(ctx, e.Focused)
}

func (e LoadEvent) deliver(ctx context.Context, d *Driver) error {
	err := d.inst.Loader().Begin(ctx, e.Source)
	if err == nil {
		return nil
	}
	if d.inst.Aborted() {
		return err
	}
	d.logger.Info("load request not started", zap.String("source", e.Source.Name()), zap.Error(err))
	return nil
}

func (CancelLoadEvent) deliver(_ context.Context, d *Driver) error {
	d.inst.Loader().Cancel()
	return nil
}

// Driver serializes every call into the primary instance. Events posted
// from any goroutine are delivered in order at the next frame, followed by
// one loader step and one update.
type Driver struct {
	inst     *Instance
	logger   *zap.Logger
	last     time.Time
	pending  []Event
	interval time.Duration
	frames   uint64
	mu       sync.Mutex
}

// NewDriver creates a driver ticking frameRate times per second.
func NewDriver(inst *Instance, frameRate int) *Driver {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Driver{
		inst:     inst,
		logger:   inst.logger.Named("driver"),
		interval: time.Second / time.Duration(frameRate),
	}
}

// Instance returns the driven instance.
func (d *Driver) Instance() *Instance { return d.inst }

// Interval returns the frame interval.
func (d *Driver) Interval() time.Duration { return d.interval }

// Frames returns the number of completed frames.
func (d *Driver) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Post queues an event for the next frame. Safe for concurrent use.
func (d *Driver) Post(ev Event) {
	d.mu.Lock()
	d.pending = append(d.pending, ev)
	d.mu.Unlock()
}

// Pending returns the number of queued events.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Frame runs one frame at time now. dt is measured from the previous frame;
// the first frame uses the nominal interval. An error means the instance
// aborted and no further frames will succeed.
func (d *Driver) Frame(ctx context.Context, now time.Time) error {
	if err := d.inst.Err(); err != nil {
		d.drop()
		return errors.Aborted(d.inst.name, err)
	}

	d.mu.Lock()
	events := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fs, ok := d.inst.rt.sink.(render.FrameSink); ok {
		fs.BeginFrame()
		defer fs.EndFrame()
	}

	for n, ev := range events {
		if err := ev.deliver(ctx, d); err != nil {
			closeSources(events[n+1:])
			return err
		}
	}

	if l := d.inst.Loader(); l.Active() {
		if _, err := l.Step(ctx); err != nil {
			if d.inst.Aborted() {
				return err
			}
			d.logger.Warn("loading session failed", zap.Error(err))
		}
	}

	dt := d.interval
	if !d.last.IsZero() {
		dt = now.Sub(d.last)
	}
	d.last = now
	if err := d.inst.Update(ctx, float32(dt.Seconds())); err != nil {
		return err
	}

	d.mu.Lock()
	d.frames++
	d.mu.Unlock()
	return nil
}

// drop discards queued events after an abort.
func (d *Driver) drop() {
	d.mu.Lock()
	events := d.pending
	d.pending = nil
	d.mu.Unlock()
	closeSources(events)
}

func closeSources(events []Event) {
	for _, ev := range events {
		if le, ok := ev.(LoadEvent); ok {
			_ = le.Source.Close()
		}
	}
}

// Run ticks frames until ctx is done or a frame fails.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := d.Frame(ctx, now); err != nil {
				return err
			}
		}
	}
}

// RunFrames runs n frames back to back with a simulated clock advancing by
// the frame interval. Used for headless runs.
func (d *Driver) RunFrames(ctx context.Context, n int) error {
	now := time.Now()
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Frame(ctx, now); err != nil {
			return err
		}
		now = now.Add(d.interval)
	}
	return nil
}
