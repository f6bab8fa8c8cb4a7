package core

import (
	"encoding/json"
	"time"

	"github.com/edvin/fleet/internal/model"
)

const (
	// OnlineWindow is the heartbeat age up to which a node counts as online.
	OnlineWindow = 2 * time.Minute
	// StaleWindow is the heartbeat age after which a node counts as offline.
	StaleWindow = 10 * time.Minute
)

// LivenessKind is the closed set of liveness states. LivenessOverride carries
// a node or operator supplied string in Liveness.Raw.
type LivenessKind string

const (
	LivenessOnline   LivenessKind = model.NodeStatusOnline
	LivenessStale    LivenessKind = model.NodeStatusStale
	LivenessOffline  LivenessKind = model.NodeStatusOffline
	LivenessOverride LivenessKind = "override"
)

type Liveness struct {
	Kind LivenessKind
	Raw  string
}

// String returns the display status: the raw override text, or the derived state.
func (l Liveness) String() string {
	if l.Kind == LivenessOverride {
		return l.Raw
	}
	return string(l.Kind)
}

func (l Liveness) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ResolveLiveness derives a node's operational state. A stored status other
// than the three derived state names is returned verbatim. Otherwise the
// state comes from heartbeat age alone, and a node that never sent a
// heartbeat is offline.
func ResolveLiveness(node *model.Node, now time.Time) Liveness {
	switch node.Status {
	case "", model.NodeStatusOnline, model.NodeStatusStale, model.NodeStatusOffline:
	default:
		return Liveness{Kind: LivenessOverride, Raw: node.Status}
	}

	if node.LastHeartbeatAt == nil {
		return Liveness{Kind: LivenessOffline}
	}

	age := now.Sub(*node.LastHeartbeatAt)
	switch {
	case age <= OnlineWindow:
		return Liveness{Kind: LivenessOnline}
	case age <= StaleWindow:
		return Liveness{Kind: LivenessStale}
	default:
		return Liveness{Kind: LivenessOffline}
	}
}
