// Package history tracks per-workspace undo/redo stacks of edit batches.
//
// State is intentionally process-local: the stacks start empty on process
// start and are not persisted, so reversal only covers the current server
// lifetime. The edit_batches audit table in persistence records what was
// applied, but replay across restarts is out of scope.
package history

import "sync"

// DefaultMaxDepth caps the undo stack per workspace. Pushing past the cap
// drops the oldest batch.
const DefaultMaxDepth = 20

// EditEntry records one file's before/after content within a batch.
// OldContent is nil when the edit created the file.
type EditEntry struct {
	Path       string  `json:"path"`
	OldContent *string `json:"oldContent,omitempty"`
	NewContent string  `json:"newContent"`
}

// EditBatch is one plan execution's worth of file changes, undone and
// redone as a unit.
type EditBatch struct {
	Entries []EditEntry `json:"entries"`
}

// Paths returns the paths touched by the batch, in entry order.
func (b EditBatch) Paths() []string {
	paths := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		paths = append(paths, e.Path)
	}
	return paths
}

type stacks struct {
	undo []EditBatch // index 0 is the most recent batch
	redo []EditBatch
}

// Service owns the undo/redo stacks for all workspaces. Construct one per
// process and pass it to whatever needs reversal; there is no package-level
// state.
type Service struct {
	mu       sync.Mutex
	byWs     map[string]*stacks
	maxDepth int
}

// NewService creates an empty history service. maxDepth <= 0 selects
// DefaultMaxDepth.
func NewService(maxDepth int) *Service {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Service{
		byWs:     make(map[string]*stacks),
		maxDepth: maxDepth,
	}
}

func (s *Service) forWorkspace(workspaceID string) *stacks {
	st, ok := s.byWs[workspaceID]
	if !ok {
		st = &stacks{}
		s.byWs[workspaceID] = st
	}
	return st
}

// Push records a new batch on the undo stack and clears the redo stack.
// Batches with no entries are ignored.
func (s *Service) Push(workspaceID string, batch EditBatch) {
	if len(batch.Entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.forWorkspace(workspaceID)
	st.undo = append([]EditBatch{batch}, st.undo...)
	if len(st.undo) > s.maxDepth {
		st.undo = st.undo[:s.maxDepth]
	}
	st.redo = nil
}

// PopUndo moves the most recent batch to the redo stack and returns it.
// The caller is responsible for re-applying each entry's OldContent.
func (s *Service) PopUndo(workspaceID string) (EditBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.forWorkspace(workspaceID)
	if len(st.undo) == 0 {
		return EditBatch{}, false
	}
	batch := st.undo[0]
	st.undo = st.undo[1:]
	st.redo = append([]EditBatch{batch}, st.redo...)
	return batch, true
}

// PopRedo moves the most recently undone batch back to the undo stack and
// returns it. The caller is responsible for re-applying each entry's
// NewContent.
func (s *Service) PopRedo(workspaceID string) (EditBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.forWorkspace(workspaceID)
	if len(st.redo) == 0 {
		return EditBatch{}, false
	}
	batch := st.redo[0]
	st.redo = st.redo[1:]
	st.undo = append([]EditBatch{batch}, st.undo...)
	return batch, true
}

// CanUndo reports whether the workspace has anything to undo.
func (s *Service) CanUndo(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byWs[workspaceID]
	return ok && len(st.undo) > 0
}

// CanRedo reports whether the workspace has anything to redo.
func (s *Service) CanRedo(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byWs[workspaceID]
	return ok && len(st.redo) > 0
}
