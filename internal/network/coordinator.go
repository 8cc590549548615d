package network

import (
	"sync"
)

// PreferenceStore persists the offline-mode preference across restarts.
type PreferenceStore interface {
	OfflineMode() (bool, error)
	SetOfflineMode(enabled bool) error
}

// Coordinator is the only writer of the network State. Reads are safe from
// any goroutine.
type Coordinator struct {
	mu             sync.RWMutex
	state          State
	syncOnWiFiOnly bool
	prefs          PreferenceStore

	subMu  sync.Mutex
	subs   map[int]chan State
	nextID int
}

// NewCoordinator creates a coordinator. The offline preference is restored
// from prefs; connectivity starts unknown until the monitor reports.
func NewCoordinator(prefs PreferenceStore, syncOnWiFiOnly bool) *Coordinator {
	c := &Coordinator{
		state: State{
			Connectivity: ConnectivityUnknown,
			Transport:    TransportNone,
		},
		syncOnWiFiOnly: syncOnWiFiOnly,
		prefs:          prefs,
		subs:           make(map[int]chan State),
	}

	if prefs != nil {
		enabled, err := prefs.OfflineMode()
		if err != nil {
			logger.Warn("Could not restore offline mode", "err", err)
		}
		c.state.OfflineModeEnabled = enabled
	}

	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CanPerformNetworkRequest reports whether the network is reachable and the
// user has not chosen offline mode.
func (c *Coordinator) CanPerformNetworkRequest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Connectivity == ConnectivityConnected && !c.state.OfflineModeEnabled
}

// CanPerformSync is CanPerformNetworkRequest plus the Wi-Fi requirement
// when sync is restricted to Wi-Fi.
func (c *Coordinator) CanPerformSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Connectivity != ConnectivityConnected || c.state.OfflineModeEnabled {
		return false
	}
	return !c.syncOnWiFiOnly || c.state.Transport == TransportWiFi
}

// EnableOfflineMode turns offline mode on. The state changes even when the
// preference cannot be persisted.
func (c *Coordinator) EnableOfflineMode() error {
	return c.setOfflineMode(true)
}

// DisableOfflineMode turns offline mode off.
func (c *Coordinator) DisableOfflineMode() error {
	return c.setOfflineMode(false)
}

// ToggleOfflineMode flips offline mode and returns the new setting.
func (c *Coordinator) ToggleOfflineMode() (bool, error) {
	c.mu.Lock()
	enabled := !c.state.OfflineModeEnabled
	c.state.OfflineModeEnabled = enabled
	c.mu.Unlock()
	return enabled, c.offlineModeChanged(enabled)
}

// UpdatePath records a connectivity change from the platform. Subscribers
// are notified only when something changed.
func (c *Coordinator) UpdatePath(connectivity Connectivity, transport Transport) {
	if connectivity != ConnectivityConnected {
		transport = TransportNone
	}

	c.mu.Lock()
	if c.state.Connectivity == connectivity && c.state.Transport == transport {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state.Connectivity = connectivity
	c.state.Transport = transport
	next := c.state
	c.mu.Unlock()

	logger.Info("Network path changed", "from", prev.String(), "to", next.String())
	c.publish()
}

// ReloadPreference re-reads the offline preference, picking up a change made
// by another process.
func (c *Coordinator) ReloadPreference() error {
	if c.prefs == nil {
		return nil
	}
	enabled, err := c.prefs.OfflineMode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state.OfflineModeEnabled == enabled {
		c.mu.Unlock()
		return nil
	}
	c.state.OfflineModeEnabled = enabled
	c.mu.Unlock()

	logger.Info("Offline mode reloaded", "enabled", enabled)
	c.publish()
	return nil
}

// Subscribe returns a channel that receives every published state. The
// channel holds only the latest state, so a slow reader skips intermediate
// ones. The current state is delivered immediately. Call cancel to stop.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.State()
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Coordinator) setOfflineMode(enabled bool) error {
	c.mu.Lock()
	c.state.OfflineModeEnabled = enabled
	c.mu.Unlock()
	return c.offlineModeChanged(enabled)
}

// offlineModeChanged notifies subscribers and persists the preference.
func (c *Coordinator) offlineModeChanged(enabled bool) error {
	logger.Info("Offline mode set", "enabled", enabled)
	c.publish()

	if c.prefs == nil {
		return nil
	}
	return c.prefs.SetOfflineMode(enabled)
}

// publish sends the current state, read under subMu so concurrent
// publishers cannot deliver an older state last.
func (c *Coordinator) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	s := c.State()
	for _, ch := range c.subs {
		// Drop the stale value, if any, so the send never blocks.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
