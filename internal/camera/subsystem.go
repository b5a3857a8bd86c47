package camera

import (
	"context"
	"log/slog"

	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

// publisher is the slice of *brokerclient.Client the camera subsystem
// needs; accepting the interface rather than the concrete client keeps
// the cascade logic testable without a real broker connection.
type publisher interface {
	Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error)
}

// Subsystem drives the camera table from incident events (spec §4.4): a
// lazy-sequence-of-events component that consumes incidents and produces
// camera-state publishes.
type Subsystem struct {
	table      *Table
	client     publisher
	log        *slog.Logger
	aiDetector chan *model.Incident
}

// New builds a camera subsystem over an already-seeded table and a
// connected broker client.
func New(table *Table, client publisher, log *slog.Logger) *Subsystem {
	return &Subsystem{
		table:      table,
		client:     client,
		log:        log,
		aiDetector: make(chan *model.Incident, 16),
	}
}

// PublishAll publishes every camera's current state once, seeding the
// broker's retained table for late subscribers (spec §4.4 "On CONNECT:
// publish all cameras once").
func (s *Subsystem) PublishAll() {
	for _, c := range s.table.All() {
		s.publishCamera(c)
	}
}

// AIDetector returns the inbound channel synthetic incidents are sent on;
// the caller (an AI detection process) pushes incidents here instead of
// publishing `Inc` directly (spec §4.4 "AI detector interface").
func (s *Subsystem) AIDetector() chan<- *model.Incident {
	return s.aiDetector
}

// RunAIDetector drains AIDetector, stamping Source=Automated and
// publishing each incident to Inc exactly as an operator-authored one
// would be, until ctx is done.
func (s *Subsystem) RunAIDetector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case inc, ok := <-s.aiDetector:
			if !ok {
				return
			}
			inc.Source = model.SourceAutomated
			if _, err := s.client.Publish(model.TopicInc, inc.Encode(), wire.QoS1); err != nil {
				s.log.Error("failed to publish automated incident", slog.Any("error", err))
			}
		}
	}
}

// HandleIncident applies spec §4.4's activation cascade: every
// non-deleted camera within range of inc.Position gets inc.ID appended to
// its managed set (and transitions SavingMode→Active), then the same
// mutation cascades through its bordering cameras regardless of their own
// range.
func (s *Subsystem) HandleIncident(inc *model.Incident) {
	visited := make(map[uint8]bool)
	for _, c := range s.table.All() {
		if c.Deleted {
			continue
		}
		if model.InRange(c, inc.Position) {
			s.activate(c.ID, inc.ID, visited)
		}
	}
}

func (s *Subsystem) activate(camID, incID uint8, visited map[uint8]bool) {
	if visited[camID] {
		return
	}
	visited[camID] = true

	c, ok := s.table.Get(camID)
	if !ok || c.Deleted {
		return
	}

	clone := *c
	added := !containsIncident(clone.ManagedIncidents, incID)
	if added {
		clone.ManagedIncidents = append(append([]uint8{}, clone.ManagedIncidents...), incID)
	}
	activated := clone.State == model.CameraSavingMode && len(clone.ManagedIncidents) > 0
	if activated {
		clone.State = model.CameraActive
	}

	s.table.Store(&clone)
	if added || activated {
		s.publishCamera(&clone)
	}

	for _, borderID := range clone.BorderCameras {
		s.activate(borderID, incID, visited)
	}
}

// HandleIncidentResolved applies spec §4.4's deactivation cascade:
// inc.ID is removed from every camera managing it; a camera whose managed
// set becomes empty returns to SavingMode and propagates the removal to
// its bordering cameras by the same rule.
func (s *Subsystem) HandleIncidentResolved(inc *model.Incident) {
	visited := make(map[uint8]bool)
	for _, c := range s.table.All() {
		if containsIncident(c.ManagedIncidents, inc.ID) {
			s.deactivate(c.ID, inc.ID, visited)
		}
	}
}

func (s *Subsystem) deactivate(camID, incID uint8, visited map[uint8]bool) {
	if visited[camID] {
		return
	}
	visited[camID] = true

	c, ok := s.table.Get(camID)
	if !ok || !containsIncident(c.ManagedIncidents, incID) {
		return
	}

	clone := *c
	clone.ManagedIncidents = removeIncident(clone.ManagedIncidents, incID)
	becameEmpty := len(clone.ManagedIncidents) == 0
	if becameEmpty {
		clone.State = model.CameraSavingMode
	}

	s.table.Store(&clone)
	s.publishCamera(&clone)

	if becameEmpty {
		for _, borderID := range clone.BorderCameras {
			s.deactivate(borderID, incID, visited)
		}
	}
}

// AddCamera installs a new camera and publishes it, the ABM side-channel
// add operation (spec §4.4 "an external operator may add/delete cameras
// at runtime").
func (s *Subsystem) AddCamera(c *model.Camera) {
	s.table.Store(c)
	s.publishCamera(c)
}

// DeleteCamera marks a camera deleted and publishes the change.
func (s *Subsystem) DeleteCamera(id uint8) {
	c, ok := s.table.Get(id)
	if !ok {
		return
	}
	clone := *c
	clone.Deleted = true
	s.table.Store(&clone)
	s.publishCamera(&clone)
}

// publishCamera serializes and publishes c on Cam with QoS-1 (spec §4.4
// "Whenever a camera's state or deleted changes, publish its serialized
// form on Cam with QoS-1").
func (s *Subsystem) publishCamera(c *model.Camera) {
	if _, err := s.client.Publish(model.TopicCam, c.Encode(), wire.QoS1); err != nil {
		s.log.Error("failed to publish camera", slog.Any("error", err), slog.Int("camera_id", int(c.ID)))
	}
}

func containsIncident(ids []uint8, id uint8) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeIncident(ids []uint8, id uint8) []uint8 {
	out := make([]uint8, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
