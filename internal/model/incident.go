package model

import (
	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/geo"
)

// IncidentSource disambiguates operator-authored incidents from AI-detector
// ones; manual and automated ids may collide (spec §3, §4.5).
type IncidentSource byte

const (
	SourceManual    IncidentSource = 0
	SourceAutomated IncidentSource = 1
)

// Incident is the unit the monitor, cameras and drones all coordinate
// around (spec §3, §6).
type Incident struct {
	ID       uint8
	Position geo.Position
	Source   IncidentSource
	Resolved bool
}

// Info is the cross-system identity of an incident: (id, source), since
// the numeric id alone is not unique (spec §4.5 "Concurrent incident ids").
type Info struct {
	ID     uint8
	Source IncidentSource
}

// Key returns i's identity pair, for use as a map key in the monitor's
// resolution tables.
func (i *Incident) Key() Info {
	return Info{ID: i.ID, Source: i.Source}
}

// Encode serializes an Incident to the wire layout in spec §6:
// id(1)·lat(8)·lon(8)·source(1)·resolved(1).
func (i *Incident) Encode() []byte {
	buf := make([]byte, 0, 19)
	buf = append(buf, i.ID)
	buf = appendFloat64(buf, i.Position.Lat)
	buf = appendFloat64(buf, i.Position.Lon)
	buf = append(buf, byte(i.Source))
	if i.Resolved {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeIncident parses the Incident wire layout.
func DecodeIncident(data []byte) (*Incident, error) {
	const wantLen = 1 + 8 + 8 + 1 + 1
	if len(data) < wantLen {
		return nil, &er.Err{Context: "Incident, Decode", Message: er.ErrShortBuffer}
	}
	return &Incident{
		ID:       data[0],
		Position: geo.Position{Lat: readFloat64(data[1:9]), Lon: readFloat64(data[9:17])},
		Source:   IncidentSource(data[17]),
		Resolved: data[18] == 1,
	}, nil
}
