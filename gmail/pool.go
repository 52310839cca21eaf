package gmail

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool holds several independent authenticated sessions for fanning out
// operations that do not depend on each other. Each session still runs its
// own commands sequentially; the pool adds parallelism only across
// sessions.
type Pool struct {
	accounts []*Account
}

// DialPool dials and authenticates size sessions with the same options.
func DialPool(opts Opts, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size %d, need at least 1", size)
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		a, err := Dial(opts)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.accounts = append(p.accounts, a)
	}
	return p, nil
}

// Size returns the number of sessions in the pool.
func (p *Pool) Size() int {
	return len(p.accounts)
}

// Close logs out all sessions, returning the first error.
func (p *Pool) Close() error {
	var first error
	for _, a := range p.accounts {
		if err := a.Logout(); err != nil && first == nil {
			first = err
		}
	}
	p.accounts = nil
	return first
}

// RunAcrossSessions runs fn once per item, distributing items across the
// pool's sessions. Results are in item order. The first error cancels
// remaining work and is returned; no partial result list accompanies an
// error.
func RunAcrossSessions[T, R any](p *Pool, items []T, fn func(*Account, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	work := make(chan int)
	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		defer close(work)
		for i := range items {
			select {
			case work <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for _, a := range p.accounts {
		a := a
		group.Go(func() error {
			for i := range work {
				r, err := fn(a, items[i])
				if err != nil {
					return err
				}
				results[i] = r
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
