package broker

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tallerdist/sentinela/internal/wire"
)

func openTestPersistence(t *testing.T) *Persistence {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	p, err := OpenPersistence(db)
	if err != nil {
		t.Fatalf("OpenPersistence() error = %v", err)
	}
	return p
}

func TestSaveAndLoadSessionRoundTrip(t *testing.T) {
	p := openTestPersistence(t)

	s := NewSession("drone-1", false, 60)
	s.Subscriptions["Inc"] = wire.QoS1
	s.Will = &Will{Topic: "desc", Payload: []byte{1, 0}, QoS: wire.QoS1, Retain: false}

	if err := p.SaveSession(s); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	loaded, ok, err := p.LoadSession("drone-1")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if loaded.CleanSession {
		t.Fatal("expected persisted clean_session=false to be restored")
	}
	if loaded.Subscriptions["Inc"] != wire.QoS1 {
		t.Fatalf("expected Inc subscription restored at QoS1, got %v", loaded.Subscriptions["Inc"])
	}
	if loaded.Will == nil || loaded.Will.Topic != "desc" {
		t.Fatalf("expected will restored, got %+v", loaded.Will)
	}
}

func TestSaveAndLoadSessionRestoresPendingAndInFlight(t *testing.T) {
	p := openTestPersistence(t)

	s := NewSession("cam-2", false, 60)
	s.Enqueue(&wire.PublishPacket{Topic: "Inc", Payload: []byte("first"), QoS: wire.QoS0})
	s.AddInFlight(&InFlightPublish{Topic: "Inc", PacketID: 1, Payload: []byte("second"), QoS: wire.QoS1})

	if err := p.SaveSession(s); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	loaded, ok, err := p.LoadSession("cam-2")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if len(loaded.Pending) != 2 {
		t.Fatalf("expected both the queued publish and the in-flight one to rejoin the pending queue, got %d", len(loaded.Pending))
	}
	var gotFirst, gotSecond bool
	for _, pp := range loaded.Pending {
		switch string(pp.Payload) {
		case "first":
			gotFirst = true
		case "second":
			gotSecond = true
		}
	}
	if !gotFirst || !gotSecond {
		t.Fatalf("expected both pending payloads restored, got %+v", loaded.Pending)
	}
}

func TestLoadSessionMissingReportsNotFound(t *testing.T) {
	p := openTestPersistence(t)
	_, ok, err := p.LoadSession("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no session to be found")
	}
}

func TestDeleteSessionRemovesSubscriptions(t *testing.T) {
	p := openTestPersistence(t)
	s := NewSession("cam-1", false, 60)
	s.Subscriptions["Cam"] = wire.QoS0
	if err := p.SaveSession(s); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	if err := p.DeleteSession("cam-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	_, ok, err := p.LoadSession("cam-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected session to be gone after delete")
	}
}

func TestSaveRetainedOverwritesOnConflict(t *testing.T) {
	p := openTestPersistence(t)
	if err := p.SaveRetained(&RetainedMessage{Topic: "Inc", Payload: []byte("first"), QoS: wire.QoS0}); err != nil {
		t.Fatalf("SaveRetained() error = %v", err)
	}
	if err := p.SaveRetained(&RetainedMessage{Topic: "Inc", Payload: []byte("second"), QoS: wire.QoS1}); err != nil {
		t.Fatalf("SaveRetained() error = %v", err)
	}

	all, err := p.LoadRetained()
	if err != nil {
		t.Fatalf("LoadRetained() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one retained message, got %d", len(all))
	}
	if string(all[0].Payload) != "second" {
		t.Fatalf("expected latest payload to win, got %q", all[0].Payload)
	}
}
