package notifier

import (
	"context"
	"errors"
	"sync"

	"tradeloop/internal/logger"
)

var errQueueFull = errors.New("notification queue full")

// Async decouples event producers from slow transports. Notify never
// blocks: when the queue is full the event is dropped and dead-lettered.
type Async struct {
	out   TextNotifier
	queue chan Event
	kinds map[Kind]bool
	wg    sync.WaitGroup
}

// NewAsync delivers to out. A non-empty kinds list filters which events pass.
func NewAsync(out TextNotifier, buffer int, kinds ...Kind) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{out: out, queue: make(chan Event, buffer)}
	if len(kinds) > 0 {
		a.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			a.kinds[k] = true
		}
	}
	return a
}

func (a *Async) Notify(e Event) {
	if a.kinds != nil && !a.kinds[e.Kind] {
		return
	}
	select {
	case a.queue <- e:
	default:
		logger.DeadLetter("notifier", "queue_full", string(e.Kind)+":"+e.Key, errQueueFull)
	}
}

// Run delivers queued events until ctx is done, then drains what is queued.
func (a *Async) Run(ctx context.Context) error {
	a.wg.Add(1)
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-a.queue:
					a.deliver(e)
				default:
					return nil
				}
			}
		case e := <-a.queue:
			a.deliver(e)
		}
	}
}

func (a *Async) deliver(e Event) {
	if err := a.out.SendText(e.Text()); err != nil {
		logger.DeadLetter("notifier", "delivery", string(e.Kind)+":"+e.Key, err)
	}
}

// Wait blocks until Run has returned.
func (a *Async) Wait() { a.wg.Wait() }

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) SendText(text string) error {
	logger.InfoBlock(text)
	return nil
}
