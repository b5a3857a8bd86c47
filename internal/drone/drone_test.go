package drone

import (
	"io"
	"log/slog"
	"testing"

	"github.com/tallerdist/sentinela/internal/geo"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

type recordingPublisher struct {
	published []model.DronCurrentInfo
}

func (p *recordingPublisher) Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error) {
	if topic == model.TopicDron {
		info, err := model.DecodeDronCurrentInfo(payload)
		if err == nil {
			p.published = append(p.published, *info)
		}
	}
	return &wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos}, nil
}

func (p *recordingPublisher) lastState() model.DronState {
	return p.published[len(p.published)-1].State
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDrone(pub *recordingPublisher) *Drone {
	return New(Config{
		ID:                1,
		RangeCenter:       geo.Position{Lat: 0, Lon: 0},
		MaintenanceCoords: geo.Position{Lat: 1, Lon: 1},
		MinBatteryLvl:     20,
		SpeedKmh:          40,
	}, pub, discardLogger())
}

func TestIdleDroneRespondsToIncident(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDrone(pub)
	inc := &model.Incident{ID: 4, Position: geo.Position{Lat: 2, Lon: 2}, Source: model.SourceManual}

	if !d.HandleIncident(inc) {
		t.Fatal("expected idle drone to accept the incident")
	}
	if d.Snapshot().State != model.DronRespondingToIncident {
		t.Fatalf("expected RespondingToIncident, got %v", d.Snapshot().State)
	}
	if d.Snapshot().IncIDToResolve != 4 {
		t.Fatal("expected inc_id_to_resolve set to 4")
	}
	if pub.lastState() != model.DronRespondingToIncident {
		t.Fatal("expected a published RespondingToIncident snapshot")
	}
}

func TestBusyDroneIgnoresIncident(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDrone(pub)
	d.HandleIncident(&model.Incident{ID: 1, Position: geo.Position{Lat: 1, Lon: 1}})

	accepted := d.HandleIncident(&model.Incident{ID: 2, Position: geo.Position{Lat: 5, Lon: 5}})
	if accepted {
		t.Fatal("expected a busy drone to reject a second incident")
	}
	if d.Snapshot().IncIDToResolve != 1 {
		t.Fatal("expected drone to still be tracking the first incident")
	}
}

func TestFullLifecycleToResolutionAndBack(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDrone(pub)
	inc := &model.Incident{ID: 9, Position: geo.Position{Lat: 3, Lon: 4}, Source: model.SourceManual}

	d.HandleIncident(inc)
	d.Reached()
	if d.Snapshot().State != model.DronManagingIncident {
		t.Fatalf("expected ManagingIncident after reaching incident, got %v", d.Snapshot().State)
	}

	resolved := *inc
	resolved.Resolved = true
	d.HandleIncidentResolved(&resolved)
	if d.Snapshot().State != model.DronReturningToBase {
		t.Fatalf("expected ReturningToBase after resolution, got %v", d.Snapshot().State)
	}

	d.Reached()
	snap := d.Snapshot()
	if snap.State != model.DronExpectingToRecvIncident {
		t.Fatalf("expected ExpectingToRecvIncident after reaching base, got %v", snap.State)
	}
	if snap.HasIncident() {
		t.Fatal("expected incident assignment cleared on return to base")
	}
}

// TestLowBatteryDetour covers spec.md scenario 6: a drone responding to
// an incident whose battery drops below the minimum detours to
// maintenance, charges, then resumes toward the still-unresolved
// incident rather than returning to base.
func TestLowBatteryDetour(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDrone(pub)
	inc := &model.Incident{ID: 2, Position: geo.Position{Lat: 10, Lon: 10}, Source: model.SourceManual}

	d.HandleIncident(inc)
	d.BatteryUpdate(19)

	if d.Snapshot().State != model.DronMantainance {
		t.Fatalf("expected Mantainance after battery dropped below minimum, got %v", d.Snapshot().State)
	}

	d.Reached()
	if d.Snapshot().Position != (geo.Position{Lat: 1, Lon: 1}) {
		t.Fatal("expected drone to have reached the maintenance coordinates")
	}

	d.Charged()
	snap := d.Snapshot()
	if snap.BatteryLvl != 100 {
		t.Fatal("expected battery recharged to 100")
	}
	if snap.State != model.DronRespondingToIncident {
		t.Fatalf("expected to resume responding to the unresolved incident, got %v", snap.State)
	}
}

// TestLowBatteryDuringReturnGoesToBaseAfterCharging mirrors scenario 6's
// other branch: if the incident was already resolved before the detour,
// the drone resumes toward base instead.
func TestLowBatteryDuringReturnGoesToBaseAfterCharging(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDrone(pub)
	inc := &model.Incident{ID: 3, Position: geo.Position{Lat: 10, Lon: 10}, Source: model.SourceManual}

	d.HandleIncident(inc)
	d.Reached()
	resolved := *inc
	resolved.Resolved = true
	d.HandleIncidentResolved(&resolved)

	d.BatteryUpdate(15)
	if d.Snapshot().State != model.DronMantainance {
		t.Fatal("expected maintenance detour while returning to base")
	}

	d.Reached()
	d.Charged()
	if d.Snapshot().State != model.DronReturningToBase {
		t.Fatalf("expected to resume toward base, got %v", d.Snapshot().State)
	}
}
