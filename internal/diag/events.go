package diag

import (
	"github.com/hdds-go/hdds/internal/discovery"
)

// ParticipantMatched broadcasts a discovery.Match. Wire it as a
// discovery.Config.OnMatch callback to stream live matches to debug
// clients.
func (h *Hub) ParticipantMatched(m discovery.Match) {
	h.Broadcast(Event{
		Type: "participant_matched",
		Data: map[string]any{
			"local_guid":  m.Local.GUID.String(),
			"remote_guid": m.Remote.EndpointGUID.String(),
			"topic":       m.Local.TopicName,
			"type_name":   m.Local.TypeName,
		},
	})
}

// QoSReloaded broadcasts a profile hot-reload. Wire it alongside (or as)
// a qos.ReloadFunc passed to qos.NewWatcher.
func (h *Hub) QoSReloaded(path string, profileCount int) {
	h.Broadcast(Event{
		Type: "qos_reloaded",
		Data: map[string]any{
			"path":          path,
			"profile_count": profileCount,
		},
	})
}

// MobilityStateChanged broadcasts a mobility.Manager state transition.
// Wire it as a mobility.Callback.OnStateChange implementation (directly
// or via an adapter).
func (h *Hub) MobilityStateChanged(old, new string) {
	h.Broadcast(Event{
		Type: "mobility_state_changed",
		Data: map[string]any{
			"old_state": old,
			"new_state": new,
		},
	})
}

// PermissionsReloaded broadcasts a permissions document reload or audit
// entry. Wire it alongside permissions.Manager's fsnotify-driven reload.
func (h *Hub) PermissionsReloaded(subject, change, details string) {
	h.Broadcast(Event{
		Type: "permissions_changed",
		Data: map[string]any{
			"subject": subject,
			"change":  change,
			"details": details,
		},
	})
}
