package alerts

import (
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/vessel-console/model"
)

// idSet is a grow-only set of alert ids.
type idSet interface {
	Add(id model.AlertID)
	Contains(id model.AlertID) bool
	Len() int
}

// newIDSet returns an unbounded set for capacity <= 0 and an LRU-bounded one
// otherwise. The bounded set forgets the least recently touched ids first.
func newIDSet(capacity int) idSet {
	if capacity <= 0 {
		return mapSet{}
	}
	return lruSet{cache: expirable.NewLRU[model.AlertID, struct{}](capacity, nil, 0)}
}

type mapSet map[model.AlertID]struct{}

func (s mapSet) Add(id model.AlertID) { s[id] = struct{}{} }

func (s mapSet) Contains(id model.AlertID) bool {
	_, ok := s[id]
	return ok
}

func (s mapSet) Len() int { return len(s) }

type lruSet struct {
	cache *expirable.LRU[model.AlertID, struct{}]
}

func (s lruSet) Add(id model.AlertID)           { s.cache.Add(id, struct{}{}) }
func (s lruSet) Contains(id model.AlertID) bool { return s.cache.Contains(id) }
func (s lruSet) Len() int                       { return s.cache.Len() }
