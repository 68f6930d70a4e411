package mesh

import "sync"

// dispatcher delivers observer events from a single goroutine in the order
// they were emitted.
type dispatcher struct {
	mu        sync.Mutex
	queue     []func(Observer)
	observers map[int]Observer
	nextID    int
	stopped   bool
	wake      chan struct{}
	done      chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		observers: make(map[int]Observer),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(o Observer) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = o
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) emit(fn func(Observer)) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop delivers what is already queued, then ends the goroutine.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				stopped := d.stopped
				d.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			obs := make([]Observer, 0, len(d.observers))
			for id := 0; id < d.nextID; id++ {
				if o, ok := d.observers[id]; ok {
					obs = append(obs, o)
				}
			}
			d.mu.Unlock()
			for _, o := range obs {
				fn(o)
			}
		}
	}
}
