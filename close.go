package aggregate

import (
	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/internal/registry"
)

// Close releases every tracked per-thread handle, marking their databases
// retired so the next flush can reclaim them. Close does not itself flush;
// callers that need final statistics should trigger the host's flush event
// before closing.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}

	s.threadsMu.Lock()
	old := s.threads.Load()
	handles := make([]*registry.Handle, 0, len(*old))
	for _, h := range *old {
		handles = append(handles, h)
	}
	empty := map[host.ThreadID]*registry.Handle{}
	s.threads.Store(&empty)
	s.threadsMu.Unlock()

	for _, h := range handles {
		h.Release()
	}
	return nil
}
