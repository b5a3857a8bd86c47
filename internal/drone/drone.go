// Package drone implements one drone's independent state machine (spec
// §4.5): idle at a range center, responding to and managing incidents,
// returning to base, and detouring to maintenance on low battery. The
// actual flight/telemetry simulation lives outside this package; Drone
// only owns the protocol-correct transitions and publishes, driven by
// external events (incident arrival, reached-target, battery reading).
package drone

import (
	"log/slog"
	"sync"

	"github.com/tallerdist/sentinela/internal/geo"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

// publisher is the slice of *brokerclient.Client the drone needs.
type publisher interface {
	Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error)
}

// target names what the drone is currently flying toward, so Reached and
// Charged know which transition applies next.
type target int

const (
	targetNone target = iota
	targetIncident
	targetBase
	targetMaintenance
)

// Drone owns one drone's current state and config. All mutation is
// serialized by mu (spec §5 "any socket read/write may block").
type Drone struct {
	mu sync.Mutex

	info model.DronCurrentInfo

	rangeCenter       geo.Position
	maintenanceCoords geo.Position
	minBatteryLvl     uint8
	speedKmh          uint16

	flyingTo               target
	resumeAfterMaintenance target
	incident               *model.Incident

	client publisher
	log    *slog.Logger
}

// Config bundles per-drone, operator-supplied parameters.
type Config struct {
	ID                uint8
	RangeCenter       geo.Position
	MaintenanceCoords geo.Position
	MinBatteryLvl     uint8
	SpeedKmh          uint16
}

// New creates a drone idle at its range center with a full battery.
func New(cfg Config, client publisher, log *slog.Logger) *Drone {
	return &Drone{
		info: model.DronCurrentInfo{
			ID:         cfg.ID,
			Position:   cfg.RangeCenter,
			BatteryLvl: 100,
			State:      model.DronExpectingToRecvIncident,
		},
		rangeCenter:       cfg.RangeCenter,
		maintenanceCoords: cfg.MaintenanceCoords,
		minBatteryLvl:     cfg.MinBatteryLvl,
		speedKmh:          cfg.SpeedKmh,
		client:            client,
		log:               log,
	}
}

// Snapshot returns a copy of the drone's current published state.
func (d *Drone) Snapshot() model.DronCurrentInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// HandleIncident attempts the ExpectingToRecvIncident → RespondingToIncident
// transition (spec §4.5 transition table, row 1): only fires if the drone
// is idle and its battery is at or above the configured minimum. It does
// not check whether inc lies within any radius of the range center.
func (d *Drone) HandleIncident(inc *model.Incident) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info.State != model.DronExpectingToRecvIncident {
		return false
	}
	if d.info.BatteryLvl < d.minBatteryLvl {
		return false
	}

	d.incident = inc
	d.flyingTo = targetIncident
	d.info.State = model.DronRespondingToIncident
	d.info.IncIDToResolve = inc.ID
	d.info.FlyingInfo = d.flightInfoToward(inc.Position)
	d.publish()
	return true
}

// Reached signals the drone arrived at wherever FlyingInfo pointed,
// advancing the state machine per the transition table.
func (d *Drone) Reached() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.flyingTo {
	case targetIncident:
		d.info.Position = d.incident.Position
		d.info.State = model.DronManagingIncident
		d.info.FlyingInfo = nil
		d.flyingTo = targetNone
		d.publish()
	case targetBase:
		d.info.Position = d.rangeCenter
		d.info.State = model.DronExpectingToRecvIncident
		d.info.FlyingInfo = nil
		d.info.ClearIncident()
		d.flyingTo = targetNone
		d.incident = nil
		d.publish()
	case targetMaintenance:
		d.info.Position = d.maintenanceCoords
		d.info.State = model.DronMantainance
		d.info.FlyingInfo = nil
		d.flyingTo = targetNone
		d.publish()
	}
}

// Charged signals the drone finished charging to 100 at maintenance and
// resumes toward whatever it was flying to before the detour — the
// incident if still unresolved, otherwise base (spec.md scenario 6).
func (d *Drone) Charged() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.info.BatteryLvl = 100
	target := d.resumeAfterMaintenance
	d.resumeAfterMaintenance = targetNone

	switch target {
	case targetIncident:
		d.flyingTo = targetIncident
		d.info.State = model.DronRespondingToIncident
		d.info.FlyingInfo = d.flightInfoToward(d.incident.Position)
	default:
		d.flyingTo = targetBase
		d.info.State = model.DronReturningToBase
		d.info.FlyingInfo = d.flightInfoToward(d.rangeCenter)
	}
	d.publish()
}

// HandleIncidentResolved applies the ManagingIncident → ReturningToBase
// transition once the monitor republishes the incident as resolved. If the
// drone is in maintenance on a detour from that incident, it records that
// Charged heads to base instead.
func (d *Drone) HandleIncidentResolved(inc *model.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info.State == model.DronMantainance && d.resumeAfterMaintenance == targetIncident &&
		d.incident != nil && d.incident.Key() == inc.Key() {
		d.resumeAfterMaintenance = targetBase
		return
	}
	if d.info.State != model.DronManagingIncident || d.incident == nil || d.incident.Key() != inc.Key() {
		return
	}
	d.flyingTo = targetBase
	d.info.State = model.DronReturningToBase
	d.info.FlyingInfo = d.flightInfoToward(d.rangeCenter)
	d.publish()
}

// BatteryUpdate reports a new battery reading; if it drops below the
// configured minimum in any state other than maintenance, the drone
// detours to maintenance,
// remembering what it was doing so Charged can resume it.
func (d *Drone) BatteryUpdate(level uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.info.BatteryLvl = level
	if level >= d.minBatteryLvl {
		return
	}
	if d.info.State == model.DronMantainance {
		return
	}

	switch d.info.State {
	case model.DronRespondingToIncident:
		d.resumeAfterMaintenance = targetIncident
	case model.DronManagingIncident, model.DronReturningToBase:
		d.resumeAfterMaintenance = targetBase
	default:
		d.resumeAfterMaintenance = targetNone
	}

	d.flyingTo = targetMaintenance
	d.info.State = model.DronMantainance
	d.info.FlyingInfo = d.flightInfoToward(d.maintenanceCoords)
	d.publish()
}

func (d *Drone) flightInfoToward(pos geo.Position) *model.FlyingInfo {
	dist := geo.Distance(d.info.Position, pos)
	if dist == 0 {
		return &model.FlyingInfo{Direction: geo.Position{}, SpeedKmh: d.speedKmh}
	}
	return &model.FlyingInfo{
		Direction: geo.Position{
			Lat: (pos.Lat - d.info.Position.Lat) / dist,
			Lon: (pos.Lon - d.info.Position.Lon) / dist,
		},
		SpeedKmh: d.speedKmh,
	}
}

func (d *Drone) publish() {
	if _, err := d.client.Publish(model.TopicDron, d.info.Encode(), wire.QoS1); err != nil {
		d.log.Error("failed to publish drone state", slog.Any("error", err), slog.Int("drone_id", int(d.info.ID)))
	}
}
