// Package monitor implements the monitoring station's resolution
// protocol (spec §4.5): a two-drone-acknowledge quorum that resolves
// incidents without any global coordinator, keyed by (id, source) since
// manual and automated incidents may share numeric ids.
package monitor

import (
	"log/slog"
	"sync"

	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

// publisher is the slice of *brokerclient.Client the monitor needs.
type publisher interface {
	Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error)
}

// quorumSize is how many distinct drones must report ManagingIncident
// before an incident is considered resolved (spec §4.5 "When the list
// reaches size 2, the monitor marks the incident resolved").
const quorumSize = 2

// Monitor subscribes to Cam, Dron, Inc and desc; it only keeps state for
// Inc and Dron since Cam/desc are informational in this protocol-only
// implementation (the original UI-bound monitor renders them, out of
// scope here per spec.md §1).
type Monitor struct {
	mu        sync.Mutex
	incidents map[model.Info]*model.Incident
	managing  map[model.Info][]uint8

	client publisher
	log    *slog.Logger
}

// New creates an empty monitor over a connected broker client.
func New(client publisher, log *slog.Logger) *Monitor {
	return &Monitor{
		incidents: make(map[model.Info]*model.Incident),
		managing:  make(map[model.Info][]uint8),
		client:    client,
		log:       log,
	}
}

// HandleIncident records or updates inc in the incident table.
func (m *Monitor) HandleIncident(inc *model.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.Key()] = inc
}

// HandleDroneUpdate registers a drone's ManagingIncident report against
// the incident it names. DronCurrentInfo carries only a numeric incident
// id (no source), so the monitor resolves the ambiguity against its own
// incident table: it matches the id against every unresolved incident
// currently tracked, which is exact whenever manual/automated ids don't
// collide and degrades gracefully (both get credited) on the rare
// collision the spec calls out in §4.5 "Concurrent incident ids".
func (m *Monitor) HandleDroneUpdate(info *model.DronCurrentInfo) {
	if info.State != model.DronManagingIncident || !info.HasIncident() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, inc := range m.incidents {
		if key.ID != info.IncIDToResolve || inc.Resolved {
			continue
		}
		if containsDrone(m.managing[key], info.ID) {
			continue
		}
		m.managing[key] = append(m.managing[key], info.ID)

		if len(m.managing[key]) >= quorumSize {
			inc.Resolved = true
			m.publishResolved(inc)
		}
	}
}

func (m *Monitor) publishResolved(inc *model.Incident) {
	if _, err := m.client.Publish(model.TopicInc, inc.Encode(), wire.QoS1); err != nil {
		m.log.Error("failed to republish resolved incident", slog.Any("error", err), slog.Int("incident_id", int(inc.ID)))
	}
}

// Incident returns the tracked incident for key, if any, mostly useful
// for tests and diagnostics.
func (m *Monitor) Incident(key model.Info) (*model.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[key]
	return inc, ok
}

func containsDrone(ids []uint8, id uint8) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
