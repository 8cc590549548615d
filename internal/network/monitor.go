package network

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	DefaultProbeAddress  = "1.1.1.1:443"
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Address  string        // host:port dialed to test reachability
	Interval time.Duration // time between probes
	Timeout  time.Duration // dial timeout per probe

	// Dial and Interfaces replace the platform calls in tests.
	Dial       func(ctx context.Context, network, address string) (net.Conn, error)
	Interfaces func() ([]net.Interface, error)
}

// Monitor derives connectivity from the platform and reports it to a
// Coordinator.
type Monitor struct {
	coord  *Coordinator
	config MonitorConfig

	wg sync.WaitGroup
}

// NewMonitor creates a monitor for coord.
func NewMonitor(coord *Coordinator, config MonitorConfig) *Monitor {
	if config.Address == "" {
		config.Address = DefaultProbeAddress
	}
	if config.Interval <= 0 {
		config.Interval = DefaultProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	if config.Dial == nil {
		config.Dial = (&net.Dialer{}).DialContext
	}
	if config.Interfaces == nil {
		config.Interfaces = net.Interfaces
	}
	return &Monitor{coord: coord, config: config}
}

// Start probes once before returning, so callers see a derived state, and
// then keeps probing until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Wait blocks until the probe loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Probe checks reachability once and updates the coordinator.
func (m *Monitor) Probe(ctx context.Context) {
	transport := m.transport()
	if transport == TransportNone {
		m.coord.UpdatePath(ConnectivityDisconnected, TransportNone)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	conn, err := m.config.Dial(dialCtx, "tcp", m.config.Address)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("Connectivity probe failed", "address", m.config.Address, "err", err)
		m.coord.UpdatePath(ConnectivityDisconnected, TransportNone)
		return
	}
	_ = conn.Close()

	m.coord.UpdatePath(ConnectivityConnected, transport)
}

func (m *Monitor) transport() Transport {
	ifaces, err := m.config.Interfaces()
	if err != nil {
		logger.Debug("Could not list interfaces", "err", err)
		return TransportOther
	}

	var names []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		names = append(names, iface.Name)
	}
	return ClassifyTransport(names)
}

// ClassifyTransport guesses the transport from the names of the interfaces
// that are up. Wi-Fi wins over wired, which wins over cellular.
func ClassifyTransport(names []string) Transport {
	if len(names) == 0 {
		return TransportNone
	}

	found := make(map[Transport]bool)
	for _, name := range names {
		found[transportOf(strings.ToLower(name))] = true
	}

	for _, t := range []Transport{TransportWiFi, TransportWired, TransportCellular, TransportOther} {
		if found[t] {
			return t
		}
	}
	return TransportOther
}

func transportOf(name string) Transport {
	switch {
	case strings.HasPrefix(name, "wl"), strings.Contains(name, "wifi"), strings.HasPrefix(name, "ath"):
		return TransportWiFi
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"),
		strings.HasPrefix(name, "pdp_ip"), strings.HasPrefix(name, "ccmni"), strings.HasPrefix(name, "ppp"):
		return TransportCellular
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"), strings.HasPrefix(name, "em"):
		return TransportWired
	default:
		return TransportOther
	}
}
