package model

import (
	"encoding/binary"
	"math"

	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/geo"
)

// CameraState is the camera's two-state machine (spec §3): SavingMode is
// idle/recording-only; Active means it has at least one incident in its
// managed set.
type CameraState byte

const (
	CameraSavingMode CameraState = 0
	CameraActive     CameraState = 1
)

// Camera mirrors the broker-wide Camera record (spec §3, §6). ManagedIncidents
// holds the incident ids currently keeping this camera Active; the invariant
// State == CameraActive iff len(ManagedIncidents) > 0 is maintained by
// internal/camera, not by this type.
type Camera struct {
	ID               uint8
	Position         geo.Position
	State            CameraState
	Range            uint8
	BorderCameras    []uint8
	Deleted          bool
	ManagedIncidents []uint8
}

// Encode serializes a Camera to the wire layout in spec §6:
// id(1)·lat(8)·lon(8)·state(1)·range(1)·border_len(1)·border_ids(n)·deleted(1).
func (c *Camera) Encode() []byte {
	buf := make([]byte, 0, 20+len(c.BorderCameras))
	buf = append(buf, c.ID)
	buf = appendFloat64(buf, c.Position.Lat)
	buf = appendFloat64(buf, c.Position.Lon)
	buf = append(buf, byte(c.State))
	buf = append(buf, c.Range)
	buf = append(buf, uint8(len(c.BorderCameras)))
	buf = append(buf, c.BorderCameras...)
	if c.Deleted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeCamera parses the Camera wire layout.
func DecodeCamera(data []byte) (*Camera, error) {
	const minLen = 1 + 8 + 8 + 1 + 1 + 1 + 1
	if len(data) < minLen {
		return nil, &er.Err{Context: "Camera, Decode", Message: er.ErrShortBuffer}
	}
	c := &Camera{
		ID:    data[0],
		State: CameraState(data[17]),
		Range: data[18],
	}
	c.Position.Lat = readFloat64(data[1:9])
	c.Position.Lon = readFloat64(data[9:17])

	borderLen := int(data[19])
	if len(data) < 20+borderLen+1 {
		return nil, &er.Err{Context: "Camera, Decode", Message: er.ErrShortBuffer}
	}
	c.BorderCameras = append([]uint8(nil), data[20:20+borderLen]...)
	c.Deleted = data[20+borderLen] == 1
	return c, nil
}

// IsBordering reports whether a and b are within the bordering radius
// (spec §4.4, default 5.0 in the source's pre-division units; configurable
// per spec §9's Open Question resolution). radius is divided by 1e7 to
// match InRange's convention, since the source always scales internally
// before comparing against a geo.Distance.
func IsBordering(a, b *Camera, radius float64) bool {
	return geo.Distance(a.Position, b.Position) <= radius/1e7
}

// InRange reports whether pos falls within camera c's activation range
// (spec §4.4: distance ≤ range/1e7).
func InRange(c *Camera, pos geo.Position) bool {
	return geo.Distance(c.Position, pos) <= float64(c.Range)/1e7
}

func appendFloat64(buf []byte, f float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return append(buf, b...)
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
