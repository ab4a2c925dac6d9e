package loader

import (
	"context"
	"sync"
)

type fetched struct {
	err  error
	data []byte
}

// PrefetchSource reads ahead of the loader on its own goroutine.
type PrefetchSource struct {
	src    Source
	ch     chan fetched
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Prefetch wraps src so that up to depth chunks are read ahead. Closing the
// returned source stops the goroutine and closes src.
func Prefetch(src Source, depth int) *PrefetchSource {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &PrefetchSource{
		src:    src,
		ch:     make(chan fetched, depth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *PrefetchSource) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.ch)
	for {
		data, err := p.src.Next(ctx)
		select {
		case p.ch <- fetched{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *PrefetchSource) Name() string { return p.src.Name() }
func (p *PrefetchSource) Size() int64  { return p.src.Size() }

// Encoding forwards the wrapped source's declared encoding.
func (p *PrefetchSource) Encoding() string {
	if es, ok := p.src.(EncodedSource); ok {
		return es.Encoding()
	}
	return ""
}

func (p *PrefetchSource) Next(ctx context.Context) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	select {
	case f, ok := <-p.ch:
		if !ok {
			return nil, context.Canceled
		}
		if f.err != nil {
			p.err = f.err
		}
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PrefetchSource) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		err = p.src.Close()
		<-p.done
	})
	return err
}
