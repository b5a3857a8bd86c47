// Package camera implements the camera subsystem (spec §4.4): a shared
// camera table mutated under lock, a bordering-relation computed once at
// startup, and the incident-driven activation/deactivation cascade.
package camera

import (
	"maps"
	"sync"

	"github.com/tallerdist/sentinela/internal/model"
)

// cameraMap is an immutable snapshot swapped copy-on-write, the same
// pattern internal/broker.sessionMap uses for its session table.
type cameraMap map[uint8]*model.Camera

// Table is the camera subsystem's shared id→Camera mapping, mutated by
// exactly one writer at a time (spec §5 "Shared-resource policy").
type Table struct {
	mu   sync.RWMutex
	data cameraMap
}

// NewTable creates an empty camera table.
func NewTable() *Table {
	return &Table{data: make(cameraMap)}
}

// Store installs or replaces a camera.
func (t *Table) Store(c *model.Camera) {
	t.mu.Lock()
	defer t.mu.Unlock()
	updated := make(cameraMap, len(t.data)+1)
	maps.Copy(updated, t.data)
	updated[c.ID] = c
	t.data = updated
}

// Get returns the camera for id, if any.
func (t *Table) Get(id uint8) (*model.Camera, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.data[id]
	return c, ok
}

// All returns a snapshot of every camera currently in the table,
// including deleted ones (callers filter as needed).
func (t *Table) All() []*model.Camera {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Camera, 0, len(t.data))
	for _, c := range t.data {
		out = append(out, c)
	}
	return out
}

// BuildBorderRelation computes the symmetric bordering relation over
// every unordered pair of non-deleted cameras currently in the table,
// replacing each camera's BorderCameras list (spec §4.4: "computed once
// at startup... the relation is symmetric by construction").
func (t *Table) BuildBorderRelation(radius float64) {
	cameras := t.All()
	borders := make(map[uint8][]uint8, len(cameras))

	for i, a := range cameras {
		if a.Deleted {
			continue
		}
		for j, b := range cameras {
			if i == j || b.Deleted {
				continue
			}
			if model.IsBordering(a, b, radius) {
				borders[a.ID] = append(borders[a.ID], b.ID)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	updated := make(cameraMap, len(t.data))
	for id, c := range t.data {
		clone := *c
		clone.BorderCameras = borders[id]
		updated[id] = &clone
	}
	t.data = updated
}
