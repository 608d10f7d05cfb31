package convert

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/nickhuang99/hugecp/internal/materialize"
	"github.com/nickhuang99/hugecp/internal/merge"
)

// streamSource writes each tensor straight from its shard.
type streamSource struct {
	m *materialize.Materializer
}

func (s streamSource) WriteTensor(w io.Writer, e merge.Entry) (int64, error) {
	return s.m.WriteTo(w, e.Decision)
}

type prefetched struct {
	b   []byte
	err error
}

// prefetchSource materializes up to jobs tensors ahead of the writer. Results
// are consumed strictly in plan order, so at most jobs materialized tensors
// are resident at once.
type prefetchSource struct {
	entries []merge.Entry
	results []chan prefetched
	tokens  chan struct{}
	next    int
	gctx    context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
}

func newPrefetchSource(ctx context.Context, m *materialize.Materializer, entries []merge.Entry, jobs int) *prefetchSource {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &prefetchSource{
		entries: entries,
		results: make([]chan prefetched, len(entries)),
		tokens:  make(chan struct{}, jobs),
		gctx:    gctx,
		cancel:  cancel,
		g:       g,
	}
	for i := range p.results {
		p.results[i] = make(chan prefetched, 1)
	}

	g.Go(func() error {
		for i, e := range entries {
			select {
			case p.tokens <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			g.Go(func() error {
				b, err := m.Materialize(e.Decision)
				p.results[i] <- prefetched{b: b, err: err}
				return err
			})
		}
		return nil
	})
	return p
}

func (p *prefetchSource) WriteTensor(w io.Writer, e merge.Entry) (int64, error) {
	if p.next >= len(p.entries) || p.entries[p.next].Name() != e.Name() {
		return 0, fmt.Errorf("convert: tensor %s requested out of plan order", e.Name())
	}
	ch := p.results[p.next]
	p.next++

	var r prefetched
	select {
	case r = <-ch:
	case <-p.gctx.Done():
		// A later tensor failed or the run was cancelled; the feeder may
		// never schedule this one.
		return 0, context.Cause(p.gctx)
	}
	<-p.tokens
	if r.err != nil {
		return 0, r.err
	}
	n, err := w.Write(r.b)
	return int64(n), err
}

// Close stops scheduling and waits for in-flight work.
func (p *prefetchSource) Close() error {
	p.cancel()
	return p.g.Wait()
}
