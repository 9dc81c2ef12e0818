package countdown

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Poller is the backend as seen by the success page.
type Poller interface {
	Poll(ctx context.Context) (*Status, error)
	// Sync asks the backend to reconcile a payment whose webhook never arrived.
	Sync(ctx context.Context) error
}

// Runner drives a State with a one-second ticker and a concurrent poll loop.
type Runner struct {
	Poller       Poller
	Clock        clockwork.Clock
	Countdown    time.Duration
	PollInterval time.Duration
	// Observer, when set, receives a snapshot after every tick.
	Observer func(Snapshot)
}

func NewRunner(p Poller, countdown time.Duration) *Runner {
	return &Runner{
		Poller:       p,
		Clock:        clockwork.NewRealClock(),
		Countdown:    countdown,
		PollInterval: 2 * time.Second,
	}
}

// Run blocks until the countdown resolves or ctx is cancelled. Either way the
// poll loop and any in-flight request are stopped before it returns.
func (r *Runner) Run(ctx context.Context) (Snapshot, error) {
	var mu sync.Mutex
	state := New(int(r.Countdown / time.Second))

	pollCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	ticker := r.Clock.NewTicker(time.Second)
	defer ticker.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.pollLoop(pollCtx, &mu, state)
	}()

	mu.Lock()
	if state.remaining == 0 {
		state.Tick()
	}
	done, snap := state.Done(), state.Snapshot()
	mu.Unlock()
	if done {
		return snap, nil
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			snap := state.Snapshot()
			mu.Unlock()
			return snap, ctx.Err()
		case <-ticker.Chan():
			mu.Lock()
			state.Tick()
			done, snap := state.Done(), state.Snapshot()
			mu.Unlock()
			if r.Observer != nil {
				r.Observer(snap)
			}
			if done {
				return snap, nil
			}
		}
	}
}

func (r *Runner) pollLoop(ctx context.Context, mu *sync.Mutex, state *State) {
	for {
		st, err := r.Poller.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Countdown] Status poll failed: %s\n", err.Error())
		} else {
			mu.Lock()
			requestSync := state.OnPoll(*st)
			mu.Unlock()
			if requestSync {
				if err := r.Poller.Sync(ctx); err != nil && ctx.Err() == nil {
					log.Printf("[Countdown] Sync failed: %s\n", err.Error())
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-r.Clock.After(r.PollInterval):
		}
	}
}
