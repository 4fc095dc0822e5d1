package docstore

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

var ErrFeedClosed = errors.New("docstore: change feed closed")

// ChangeFeed carries "collection changed" signals between writers and
// watchers for backends without a native snapshot listener.
type ChangeFeed interface {
	Notify(ctx context.Context, collection string) error
	// Subscribe returns a coalescing signal channel and a release func.
	Subscribe(ctx context.Context, collection string) (<-chan struct{}, func(), error)
}

// LocalFeed is an in-process ChangeFeed.
type LocalFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan struct{}
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: map[string]map[int]chan struct{}{}}
}

func (f *LocalFeed) Notify(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(_ context.Context, collection string) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	ch := make(chan struct{}, 1)
	if f.subs[collection] == nil {
		f.subs[collection] = map[int]chan struct{}{}
	}
	f.subs[collection][id] = ch

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[collection], id)
			if len(f.subs[collection]) == 0 {
				delete(f.subs, collection)
			}
		})
	}
	return ch, release, nil
}

type requery struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (r *requery) Stop() {
	r.once.Do(r.cancel)
}

// Done is closed once the watch goroutine has exited.
func (r *requery) Done() <-chan struct{} {
	return r.done
}

// Requery turns change signals into full-result-set emissions: it runs fetch
// once up front and again after every signal, emitting only when the result
// differs from the previous emission. release runs when the watch ends.
func Requery(ctx context.Context, triggers <-chan struct{}, fetch func(context.Context) ([]Snapshot, error), onUpdate func([]Snapshot), onErr func(error), release func()) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &requery{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer func() {
			if release != nil {
				release()
			}
		}()

		var last []Snapshot
		emitted := false
		run := func() bool {
			snaps, err := fetch(ctx)
			if err != nil {
				if ctx.Err() == nil && onErr != nil {
					onErr(err)
				}
				return false
			}
			if emitted && reflect.DeepEqual(last, snaps) {
				return true
			}
			last, emitted = snaps, true
			if ctx.Err() == nil {
				onUpdate(snaps)
			}
			return true
		}

		if !run() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggers:
				if !ok {
					if ctx.Err() == nil && onErr != nil {
						onErr(ErrFeedClosed)
					}
					return
				}
				if !run() {
					return
				}
			}
		}
	}()
	return sub
}
