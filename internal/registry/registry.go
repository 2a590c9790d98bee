// Package registry derives the public device list from the hub's live
// sessions. Nothing here is persisted: the list is recomputed from session
// state on every trigger (registration, disconnection, explicit discovery)
// and never cached beyond a single broadcast.
package registry

import (
	"net"
	"sort"
	"time"

	"github.com/fileferry/fileferry/internal/hub"
	"github.com/fileferry/fileferry/pkg/protocol"
)

// Registry answers "who is online" and republishes the device list on
// membership changes. All session mutation goes through the hub.
type Registry struct {
	hub *hub.Hub
}

// New creates a registry over the given hub.
func New(h *hub.Hub) *Registry {
	return &Registry{hub: h}
}

// Register attaches device metadata to the named session, overwriting any
// prior value. Repeated registrations on one connection are last-write-wins.
// Returns false if the session disconnected before the registration landed.
func (r *Registry) Register(sessionID string, raw protocol.RegisterDevice) (hub.Device, bool) {
	now := time.Now()
	d := hub.Device{
		Name:         raw.Name,
		Class:        Classify(raw),
		IsGuest:      raw.IsGuest,
		Browser:      raw.Browser,
		RegisteredAt: now,
		LastSeen:     now,
	}
	if !r.hub.SetDevice(sessionID, d) {
		return hub.Device{}, false
	}
	return d, true
}

// Snapshot returns the full device list: every live session that has
// completed registration, each exactly once, ordered by connect time.
func (r *Registry) Snapshot() []protocol.DeviceEntry {
	sessions := r.hub.All()
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	entries := make([]protocol.DeviceEntry, 0, len(sessions))
	for _, s := range sessions {
		if !s.Registered() {
			continue
		}
		entries = append(entries, entryFor(s))
	}
	return entries
}

// SnapshotFor returns the device list as seen by one session: the full
// snapshot minus that session's own entry.
func (r *Registry) SnapshotFor(sessionID string) []protocol.DeviceEntry {
	return exclude(r.Snapshot(), sessionID)
}

// BroadcastList recomputes the device list and sends it to every live
// session, registered or not. The canonical list is computed once; each
// recipient's own entry is filtered out at send time, so no session ever
// sees itself.
func (r *Registry) BroadcastList() {
	full := r.Snapshot()
	for _, s := range r.hub.All() {
		env, err := protocol.NewEnvelope(protocol.KindDeviceList, protocol.NewMsgID(), exclude(full, s.ID))
		if err != nil {
			continue
		}
		r.hub.Send(s.ID, env)
	}
}

// DisplayName returns the registered name of a session, or fallback when the
// session is unknown, unregistered, or nameless.
func (r *Registry) DisplayName(sessionID, fallback string) string {
	s, ok := r.hub.Lookup(sessionID)
	if !ok || !s.Registered() || s.Device.Name == "" {
		return fallback
	}
	return s.Device.Name
}

func exclude(entries []protocol.DeviceEntry, sessionID string) []protocol.DeviceEntry {
	out := make([]protocol.DeviceEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != sessionID {
			out = append(out, e)
		}
	}
	return out
}

func entryFor(s hub.Session) protocol.DeviceEntry {
	return protocol.DeviceEntry{
		ID:       s.ID,
		Name:     s.Device.Name,
		Type:     s.Device.Class,
		IP:       hostOnly(s.RemoteAddr),
		IsGuest:  s.Device.IsGuest,
		Browser:  s.Device.Browser,
		LastSeen: s.Device.LastSeen.UnixMilli(),
	}
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
