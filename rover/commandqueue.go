package rover

import "sync"

// CommandQueueCapacity bounds the number of pending control commands.
// Producers (MQTT, HTTP) can outpace the 10 Hz tick loop; older commands
// are dropped first because a stale directive is worse than a lost one.
const CommandQueueCapacity = 32

// CommandQueue is a fixed-capacity ring buffer of pending commands with a
// drop-oldest overflow policy. Safe for concurrent producers; the single
// tick loop is the only consumer.
type CommandQueue struct {
	mu      sync.Mutex
	buf     [CommandQueueCapacity]Command
	head    int // index of oldest entry
	count   int
	dropped int
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push enqueues a command, evicting the oldest entry when full.
func (q *CommandQueue) Push(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == CommandQueueCapacity {
		q.head = (q.head + 1) % CommandQueueCapacity
		q.count--
		q.dropped++
	}
	q.buf[(q.head+q.count)%CommandQueueCapacity] = cmd
	q.count++
}

// Drain removes and returns all pending commands in arrival order.
func (q *CommandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	out := make([]Command, q.count)
	for i := 0; i < q.count; i++ {
		out[i] = q.buf[(q.head+i)%CommandQueueCapacity]
	}
	q.head = 0
	q.count = 0
	return out
}

// Len reports the number of pending commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped reports how many commands were evicted by overflow.
func (q *CommandQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
