package canvas

import (
	"slices"

	"github.com/roach88/canvasync/internal/projector"
)

// Track records that the operation with requestID has been applied locally
// but is not yet confirmed by the op log.
func (s *State) Track(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[requestID] = struct{}{}
}

// Confirm records that requestID was stored at seq. The cursor is left alone:
// other writers may hold sequences below seq that this state has not seen.
// Until Observe passes seq, requestID is reported with the pending ids.
func (s *State) Confirm(requestID string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
	if seq > s.cursor {
		s.confirmed[requestID] = seq
	}
}

// Confirmed reports whether requestID was stored by this state's writer and
// is not yet covered by the cursor.
func (s *State) Confirmed(requestID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.confirmed[requestID]
	return ok
}

// Forget drops requestID from the pending set without advancing the cursor,
// for operations whose write failed.
func (s *State) Forget(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
}

// Observe advances the cursor to seq if it is ahead. seq must come from
// history read in order, so that every sequence up to it is reflected.
func (s *State) Observe(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.cursor {
		return
	}
	s.cursor = seq
	for id, at := range s.confirmed {
		if at <= seq {
			delete(s.confirmed, id)
		}
	}
}

// Cursor returns the op log sequence up to which all history is reflected and the
// sorted request ids of applied operations not covered by it.
func (s *State) Cursor() (int64, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skip := s.uncovered()
	if len(skip) == 0 {
		skip = nil
	}
	return s.cursor, skip
}

func (s *State) uncovered() []string {
	ids := make([]string, 0, len(s.pending)+len(s.confirmed))
	for id := range s.pending {
		ids = append(ids, id)
	}
	for id := range s.confirmed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// View is a consistent read of the collections and the cursor.
type View struct {
	Collections projector.Collections
	Seq         int64
	Pending     []string
}

// View returns the collections together with the cursor they reflect.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{Collections: s.cols, Seq: s.cursor}
	if ids := s.uncovered(); len(ids) > 0 {
		v.Pending = ids
	}
	return v
}
