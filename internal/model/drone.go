package model

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/geo"
)

// DronState is the drone's five-state machine (spec §4.5).
type DronState byte

const (
	DronExpectingToRecvIncident DronState = 0
	DronRespondingToIncident    DronState = 1
	DronManagingIncident        DronState = 2
	DronReturningToBase         DronState = 3
	DronMantainance             DronState = 4
)

// FlyingInfo is the drone's current heading: a unit direction vector plus
// a scalar speed in km/h (spec §3, §6).
type FlyingInfo struct {
	Direction geo.Position // unit vector, not a position, reusing the (x, y) pair
	SpeedKmh  uint16
}

// noIncident is the sentinel value for "no incident currently being
// resolved" (spec §9 Open Question: 0 means absent, so incident ids must
// start at 1).
const noIncident uint8 = 0

// DronCurrentInfo is the periodic snapshot a drone publishes to topic Dron
// (spec §3, §6).
type DronCurrentInfo struct {
	ID             uint8
	Position       geo.Position
	BatteryLvl     uint8
	State          DronState
	IncIDToResolve uint8 // noIncident (0) means absent
	FlyingInfo     *FlyingInfo
}

// HasIncident reports whether the drone is currently carrying an
// incident-id assignment.
func (d *DronCurrentInfo) HasIncident() bool {
	return d.IncIDToResolve != noIncident
}

// ClearIncident resets the incident assignment to "absent".
func (d *DronCurrentInfo) ClearIncident() {
	d.IncIDToResolve = noIncident
}

// Encode serializes a DronCurrentInfo to the wire layout in spec §6:
// id(1)·lat(8)·lon(8)·battery(1)·state(1)·inc_id_to_resolve(1)·
// has_flying_info(1)·[dir_lat(8)·dir_lon(8)·speed(2)].
func (d *DronCurrentInfo) Encode() []byte {
	buf := make([]byte, 0, 22+19)
	buf = append(buf, d.ID)
	buf = appendFloat64(buf, d.Position.Lat)
	buf = appendFloat64(buf, d.Position.Lon)
	buf = append(buf, d.BatteryLvl)
	buf = append(buf, byte(d.State))
	buf = append(buf, d.IncIDToResolve)

	if d.FlyingInfo != nil {
		buf = append(buf, 1)
		buf = appendFloat64(buf, d.FlyingInfo.Direction.Lat)
		buf = appendFloat64(buf, d.FlyingInfo.Direction.Lon)
		speed := make([]byte, 2)
		binary.BigEndian.PutUint16(speed, d.FlyingInfo.SpeedKmh)
		buf = append(buf, speed...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeDronCurrentInfo parses the DronCurrentInfo wire layout.
func DecodeDronCurrentInfo(data []byte) (*DronCurrentInfo, error) {
	const minLen = 1 + 8 + 8 + 1 + 1 + 1 + 1
	if len(data) < minLen {
		return nil, &er.Err{Context: "DronCurrentInfo, Decode", Message: er.ErrShortBuffer}
	}
	d := &DronCurrentInfo{
		ID:             data[0],
		BatteryLvl:     data[17],
		State:          DronState(data[18]),
		IncIDToResolve: data[19],
	}
	d.Position.Lat = readFloat64(data[1:9])
	d.Position.Lon = readFloat64(data[9:17])

	hasFlying := data[20]
	if hasFlying == 1 {
		if len(data) < 21+18 {
			return nil, &er.Err{Context: "DronCurrentInfo, Decode, FlyingInfo", Message: er.ErrShortBuffer}
		}
		d.FlyingInfo = &FlyingInfo{
			Direction: geo.Position{
				Lat: readFloat64(data[21:29]),
				Lon: readFloat64(data[29:37]),
			},
			SpeedKmh: binary.BigEndian.Uint16(data[37:39]),
		}
	}
	return d, nil
}
