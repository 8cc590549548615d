// Package network tracks connectivity and the user's offline mode, and
// answers whether network work may run right now.
package network

import (
	"fmt"

	"github.com/nightlight-labs/lullaby/internal/logging"
)

var logger = logging.New("network")

// Connectivity is the reachability of the outside world.
type Connectivity string

const (
	ConnectivityUnknown      Connectivity = "unknown"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
)

// Transport is the kind of link in use.
type Transport string

const (
	TransportNone     Transport = "none"
	TransportWiFi     Transport = "wifi"
	TransportCellular Transport = "cellular"
	TransportWired    Transport = "wired"
	TransportOther    Transport = "other"
)

// State is a snapshot of the network as the coordinator sees it.
type State struct {
	Connectivity       Connectivity
	Transport          Transport
	OfflineModeEnabled bool
}

// String implements fmt.Stringer.
func (s State) String() string {
	offline := ""
	if s.OfflineModeEnabled {
		offline = ", offline mode"
	}
	return fmt.Sprintf("%s via %s%s", s.Connectivity, s.Transport, offline)
}
