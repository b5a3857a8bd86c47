package camera

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/tallerdist/sentinela/internal/geo"
	"github.com/tallerdist/sentinela/internal/model"
	"github.com/tallerdist/sentinela/internal/wire"
)

// recordingPublisher captures every publish the subsystem makes instead
// of sending it over a real connection.
type recordingPublisher struct {
	mu        sync.Mutex
	published []*model.Camera
}

func (p *recordingPublisher) Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == model.TopicCam {
		c, err := model.DecodeCamera(payload)
		if err == nil {
			p.published = append(p.published, c)
		}
	}
	return &wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos}, nil
}

func (p *recordingPublisher) last(id uint8) *model.Camera {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out *model.Camera
	for _, c := range p.published {
		if c.ID == id {
			out = c
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestSingleCameraSingleIncident covers spec.md scenario 1: a camera
// whose incident lands squarely in range transitions to Active with the
// incident id recorded.
func TestSingleCameraSingleIncident(t *testing.T) {
	table := NewTable()
	table.Store(&model.Camera{ID: 1, Position: geo.Position{Lat: -34.6037, Lon: -58.3861}, Range: 10})

	pub := &recordingPublisher{}
	sub := New(table, pub, discardLogger())

	sub.HandleIncident(&model.Incident{ID: 7, Position: geo.Position{Lat: -34.6037, Lon: -58.3861}, Source: model.SourceManual})

	c, ok := table.Get(1)
	if !ok {
		t.Fatal("camera 1 missing from table")
	}
	if c.State != model.CameraActive {
		t.Fatalf("expected camera active, got state %v", c.State)
	}
	if !containsIncident(c.ManagedIncidents, 7) {
		t.Fatalf("expected managed incidents to contain 7, got %v", c.ManagedIncidents)
	}

	if last := pub.last(1); last == nil || last.State != model.CameraActive {
		t.Fatal("expected a published camera snapshot with state Active")
	}
}

// TestBorderCascade covers spec.md scenario 2: two cameras close enough
// to border each other both activate when only one is directly in range.
func TestBorderCascade(t *testing.T) {
	table := NewTable()
	table.Store(&model.Camera{ID: 1, Position: geo.Position{Lat: -34.6037344, Lon: -58.3861838}, Range: 10})
	table.Store(&model.Camera{ID: 2, Position: geo.Position{Lat: -34.60373465, Lon: -58.3861838}, Range: 1})
	table.BuildBorderRelation(5.0)

	cam1, _ := table.Get(1)
	cam2, _ := table.Get(2)
	if !containsIncident(cam1.BorderCameras, 2) || !containsIncident(cam2.BorderCameras, 1) {
		t.Fatalf("expected cameras 1 and 2 to border each other, got %v / %v", cam1.BorderCameras, cam2.BorderCameras)
	}

	pub := &recordingPublisher{}
	sub := New(table, pub, discardLogger())

	sub.HandleIncident(&model.Incident{ID: 3, Position: geo.Position{Lat: -34.6037344, Lon: -58.3861838}, Source: model.SourceManual})

	c1, _ := table.Get(1)
	c2, _ := table.Get(2)
	if c1.State != model.CameraActive {
		t.Fatal("expected camera 1 (directly in range) active")
	}
	if c2.State != model.CameraActive {
		t.Fatal("expected camera 2 (bordering only) active via cascade")
	}
}

// TestIncidentResolvedCascade checks the deactivation path: resolving the
// incident returns both cameras to SavingMode.
func TestIncidentResolvedCascade(t *testing.T) {
	table := NewTable()
	table.Store(&model.Camera{ID: 1, Position: geo.Position{Lat: -34.6037344, Lon: -58.3861838}, Range: 10})
	table.Store(&model.Camera{ID: 2, Position: geo.Position{Lat: -34.60373465, Lon: -58.3861838}, Range: 10})
	table.BuildBorderRelation(5.0)

	pub := &recordingPublisher{}
	sub := New(table, pub, discardLogger())
	inc := &model.Incident{ID: 9, Position: geo.Position{Lat: -34.6037344, Lon: -58.3861838}, Source: model.SourceManual}

	sub.HandleIncident(inc)
	sub.HandleIncidentResolved(inc)

	c1, _ := table.Get(1)
	c2, _ := table.Get(2)
	if c1.State != model.CameraSavingMode {
		t.Fatalf("expected camera 1 back in SavingMode, got %v", c1.State)
	}
	if c2.State != model.CameraSavingMode {
		t.Fatalf("expected camera 2 back in SavingMode, got %v", c2.State)
	}
	if len(c1.ManagedIncidents) != 0 || len(c2.ManagedIncidents) != 0 {
		t.Fatal("expected managed incidents cleared on both cameras")
	}
}

// TestOutOfRangeCameraUnaffected makes sure a camera far from both the
// incident and any bordering camera is left untouched.
func TestOutOfRangeCameraUnaffected(t *testing.T) {
	table := NewTable()
	table.Store(&model.Camera{ID: 1, Position: geo.Position{Lat: -34.6037, Lon: -58.3861}, Range: 10})
	table.Store(&model.Camera{ID: 5, Position: geo.Position{Lat: 10, Lon: 10}, Range: 10})
	table.BuildBorderRelation(5.0)

	pub := &recordingPublisher{}
	sub := New(table, pub, discardLogger())
	sub.HandleIncident(&model.Incident{ID: 1, Position: geo.Position{Lat: -34.6037, Lon: -58.3861}, Source: model.SourceManual})

	far, _ := table.Get(5)
	if far.State != model.CameraSavingMode {
		t.Fatal("expected distant camera to remain in SavingMode")
	}
	if pub.last(5) != nil {
		t.Fatal("expected no publish for the unaffected camera")
	}
}

func TestDeleteCameraPublishesDeletedFlag(t *testing.T) {
	table := NewTable()
	table.Store(&model.Camera{ID: 1, Position: geo.Position{Lat: 0, Lon: 0}, Range: 10})

	pub := &recordingPublisher{}
	sub := New(table, pub, discardLogger())
	sub.DeleteCamera(1)

	c, _ := table.Get(1)
	if !c.Deleted {
		t.Fatal("expected camera marked deleted")
	}
	if last := pub.last(1); last == nil || !last.Deleted {
		t.Fatal("expected a published snapshot with Deleted=true")
	}
}
