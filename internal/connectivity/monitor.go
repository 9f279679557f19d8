package connectivity

import (
	"log/slog"
	"sync"

	"loadout/internal/detection"
	"loadout/internal/logging"
)

// State is one observed connectivity report.
type State struct {
	Online  bool
	Network detection.NetworkClass
}

// Monitor is the shared online/offline signal. Producers (platform hooks, the
// API layer, tests) push state transitions; consumers either poll Current or
// subscribe for transition events. Subscriber channels are buffered and
// never block the producer: a slow subscriber misses intermediate
// transitions, not the latest state.
type Monitor struct {
	mu          sync.RWMutex
	current     State
	subscribers map[int]chan State
	nextID      int
	logger      *slog.Logger
}

// NewMonitor starts in the offline state; the first real report replaces it.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		current:     State{Online: false, Network: detection.NetworkOffline},
		subscribers: make(map[int]chan State),
		logger:      logging.NewComponentLogger(logger, "connectivity"),
	}
}

// Current returns the last reported state.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online is shorthand for Current().Online.
func (m *Monitor) Online() bool {
	return m.Current().Online
}

// Report records a new connectivity observation and fans it out to
// subscribers when the online/offline bit actually changed.
func (m *Monitor) Report(state State) {
	m.mu.Lock()
	changed := m.current.Online != state.Online
	m.current = state
	var targets []chan State
	if changed {
		for _, ch := range m.subscribers {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("connectivity changed",
		logging.Bool("online", state.Online),
		logging.String("network", string(state.Network)),
	)
	for _, ch := range targets {
		select {
		case ch <- state:
		default:
			// Drop rather than block; Current always has the latest state.
		}
	}
}

// Subscribe returns a channel of online/offline transitions and a cancel
// function that closes it.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	ch := make(chan State, 4)
	m.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}
