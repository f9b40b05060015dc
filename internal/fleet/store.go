// Package fleet holds the console's live picture of tracked vessels and the
// set of vessels currently inside an operator zone.
package fleet

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/vessel-console/internal/feed"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/model"
)

// ErrVesselNotFound is returned when an id is not in the store.
var ErrVesselNotFound = errors.New("vessel not found")

// MetricsRecorder receives store size updates.
type MetricsRecorder interface {
	SetFleetCounts(vessels, zoneMembers int)
}

// Option customises Store construction.
type Option func(*Store)

// WithMetricsRecorder attaches a recorder that is updated after every
// mutation.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Store) { s.metrics = rec }
}

// Store is the entity state store. Entities are keyed by id; membership is
// tracked separately from entity data and driven only by zone alerts.
//
// Values handed out are copies; the store's maps never escape.
type Store struct {
	mu       sync.RWMutex
	vessels  map[model.VesselID]model.Vessel
	inZone   map[model.VesselID]struct{}
	selected model.VesselID

	log     logging.Logger
	metrics MetricsRecorder
}

// NewStore returns an empty store.
func NewStore(log logging.Logger, opts ...Option) *Store {
	if log == nil {
		log = logging.Noop()
	}
	s := &Store{
		vessels: make(map[model.VesselID]model.Vessel),
		inZone:  make(map[model.VesselID]struct{}),
		log:     log.With(logging.String("component", "fleet")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage routes a feed message to the matching mutation. Kinds the
// store does not care about are ignored.
func (s *Store) HandleMessage(msg feed.Message) {
	switch msg.Type {
	case feed.KindInitialData:
		vessels := make([]model.Vessel, 0, len(msg.Vessels))
		for _, p := range msg.Vessels {
			vessels = append(vessels, p.Vessel())
		}
		s.ApplySnapshot(vessels)
	case feed.KindVesselUpdate:
		s.ApplyPatch(msg.Vessels)
	case feed.KindZoneAlert:
		if msg.Alert != nil {
			s.ApplyAlert(*msg.Alert)
		}
	}
}

// ApplySnapshot replaces every entity with the given set. Zone membership
// and selection are left alone.
func (s *Store) ApplySnapshot(vessels []model.Vessel) {
	next := make(map[model.VesselID]model.Vessel, len(vessels))
	skipped := 0
	for _, v := range vessels {
		if v.ID == "" {
			skipped++
			continue
		}
		next[v.ID] = v
	}

	s.mu.Lock()
	s.vessels = next
	s.mu.Unlock()

	if skipped > 0 {
		s.log.Warn(context.Background(), "snapshot entries without id skipped", logging.Int("count", skipped))
	}
	s.log.Debug(context.Background(), "snapshot applied", logging.Int("vessels", len(next)))
	s.publish()
}

// ApplyPatch merges each patch onto the existing entity, field by field.
// A patch for an unknown id creates an entity from the patch alone.
// Patches are applied in slice order, so a later patch for the same id wins.
func (s *Store) ApplyPatch(patches []model.VesselPatch) {
	skipped := 0
	created := 0

	s.mu.Lock()
	for _, p := range patches {
		if p.ID == "" {
			skipped++
			continue
		}
		v, ok := s.vessels[p.ID]
		if !ok {
			created++
		}
		p.Apply(&v)
		s.vessels[p.ID] = v
	}
	s.mu.Unlock()

	if skipped > 0 {
		s.log.Warn(context.Background(), "patches without id skipped", logging.Int("count", skipped))
	}
	if created > 0 {
		s.log.Debug(context.Background(), "patch introduced new vessels", logging.Int("count", created))
	}
	s.publish()
}

// ApplyAlert updates zone membership: enter adds, exit removes. The most
// recently applied alert for a vessel decides its membership.
func (s *Store) ApplyAlert(a model.Alert) {
	if a.VesselID == "" {
		return
	}
	s.mu.Lock()
	switch a.Type {
	case model.AlertEnter:
		s.inZone[a.VesselID] = struct{}{}
	case model.AlertExit:
		delete(s.inZone, a.VesselID)
	}
	s.mu.Unlock()
	s.publish()
}

// Get returns a copy of one entity.
func (s *Store) Get(id model.VesselID) (model.Vessel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vessels[id]
	return v, ok
}

// Len reports the number of entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vessels)
}

// List returns every entity ordered by case-insensitive name, ties broken by
// id.
func (s *Store) List() []model.Vessel {
	s.mu.RLock()
	out := make([]model.Vessel, 0, len(s.vessels))
	for _, v := range s.vessels {
		out = append(out, v)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID.Less(out[j].ID)
	})
	return out
}

// InZone reports whether the vessel's last alert was an entry.
func (s *Store) InZone(id model.VesselID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inZone[id]
	return ok
}

// ZoneMembers returns the ids currently inside a zone, sorted.
func (s *Store) ZoneMembers() []model.VesselID {
	s.mu.RLock()
	out := make([]model.VesselID, 0, len(s.inZone))
	for id := range s.inZone {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Select marks id as the selected vessel. The id does not need to exist
// yet; Selected resolves it lazily.
func (s *Store) Select(id model.VesselID) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// ClearSelection drops the selection.
func (s *Store) ClearSelection() {
	s.Select("")
}

// SelectedID returns the raw selected id, which may not resolve.
func (s *Store) SelectedID() model.VesselID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Selected resolves the selection against the current entity map. An empty
// selection or an id with no entity yields false.
func (s *Store) Selected() (model.Vessel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return model.Vessel{}, false
	}
	v, ok := s.vessels[s.selected]
	return v, ok
}

func (s *Store) publish() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	vessels, members := len(s.vessels), len(s.inZone)
	s.mu.RUnlock()
	s.metrics.SetFleetCounts(vessels, members)
}
