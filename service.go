package aggregate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/caliper-aggregate/host"
	"github.com/hupe1980/caliper-aggregate/internal/registry"
	"github.com/hupe1980/caliper-aggregate/internal/threaddb"
)

// primaryThread is the logical thread eagerly given a database at
// post-init, per §3's "or eagerly for the primary thread" lifecycle rule.
const primaryThread host.ThreadID = 0

// Service connects the aggregation core to a host measurement framework: it
// resolves configured attribute names to ids, owns the database registry,
// and routes the host's lifecycle events to it.
type Service struct {
	host     host.Host
	cfg      *config
	logger   *Logger
	observer MetricsObserver

	keyMu        sync.Mutex
	keyAttrIDs   []host.AttributeID
	keyAttrKinds []host.Kind

	aggAttrs  []threaddb.AggregatedAttribute
	countAttr host.AttributeID
	aggRoot   host.NodeID

	reg *registry.Registry

	// threads is a copy-on-write map published atomically, so the ingest
	// hot path (onProcessSnapshot, reachable from signal context) resolves
	// an already-registered thread's handle without ever taking a lock —
	// the Go analog of the source's lock-free pthread_getspecific lookup.
	// threadsMu serializes the rare copy-on-write installs of a new thread;
	// it is never held while reading.
	threadsMu sync.Mutex
	threads   atomic.Pointer[map[host.ThreadID]*registry.Handle]
}

// Register configures and attaches a Service to h, subscribing to its
// lifecycle events, per §6's "exposed to host framework" contract.
func Register(h host.Host, opts ...Option) (*Service, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Service{
		host:     h,
		cfg:      cfg,
		logger:   cfg.logger,
		observer: cfg.observer,
	}
	emptyThreads := map[host.ThreadID]*registry.Handle{}
	s.threads.Store(&emptyThreads)
	s.keyAttrIDs = make([]host.AttributeID, len(cfg.keyAttrNames))
	s.keyAttrKinds = make([]host.Kind, len(cfg.keyAttrNames))

	if err := s.createAttributes(); err != nil {
		return nil, err
	}

	s.reg = registry.New(s.newDatabase, cfg.budget)

	h.OnAttributeCreated(s.onAttributeCreated)
	h.OnPostInit(s.onPostInit)
	h.OnProcessSnapshot(s.onProcessSnapshot)
	h.OnFlush(s.onFlush)
	h.OnFinish(s.onFinish)

	return s, nil
}

func (s *Service) createAttributes() error {
	s.aggAttrs = make([]threaddb.AggregatedAttribute, 0, len(s.cfg.aggAttrNames))
	for _, name := range s.cfg.aggAttrNames {
		attr, ok := s.host.GetAttribute(name)
		if !ok {
			var err error
			attr, err = s.host.CreateAttribute(name, host.KindDouble, host.AttributeFlags{})
			if err != nil {
				return fmt.Errorf("%w: aggregated attribute %q: %v", ErrConfig, name, err)
			}
		}

		minAttr, err := s.host.CreateAttribute("min#"+name, host.KindDouble, host.AttributeFlags{SkipEvents: true})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		maxAttr, err := s.host.CreateAttribute("max#"+name, host.KindDouble, host.AttributeFlags{SkipEvents: true})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		sumAttr, err := s.host.CreateAttribute("sum#"+name, host.KindDouble, host.AttributeFlags{SkipEvents: true})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}

		s.aggAttrs = append(s.aggAttrs, threaddb.AggregatedAttribute{
			Attribute: attr.ID,
			MinAttr:   minAttr.ID,
			MaxAttr:   maxAttr.ID,
			SumAttr:   sumAttr.ID,
		})
	}

	countAttr, err := s.host.CreateAttribute("count", host.KindUint, host.AttributeFlags{SkipEvents: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	s.countAttr = countAttr.ID
	return nil
}

func (s *Service) newDatabase() *threaddb.Database {
	s.keyMu.Lock()
	keyAttrs := append([]host.AttributeID(nil), s.keyAttrIDs...)
	keyKinds := append([]host.Kind(nil), s.keyAttrKinds...)
	s.keyMu.Unlock()

	return threaddb.New(threaddb.Config{
		Host:         s.host,
		KeyAttrs:     keyAttrs,
		KeyAttrKinds: keyKinds,
		AggAttrs:     s.aggAttrs,
		AggRoot:      s.aggRoot,
		KeyLenMax:    s.cfg.keyLenMax,
		CountAttr:    s.countAttr,
		MaxBlocks:    s.cfg.maxBlocks,
		EntriesSize:  s.cfg.entriesSize,
	})
}

// onAttributeCreated updates a key-attribute id slot under keyMu, per §4H.
func (s *Service) onAttributeCreated(attr host.Attribute) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	for i, name := range s.cfg.keyAttrNames {
		if attr.Name == name {
			s.keyAttrIDs[i] = attr.ID
			s.keyAttrKinds[i] = attr.Kind
		}
	}
}

func (s *Service) onPostInit() {
	s.keyMu.Lock()
	for i, name := range s.cfg.keyAttrNames {
		if attr, ok := s.host.GetAttribute(name); ok {
			s.keyAttrIDs[i] = attr.ID
			s.keyAttrKinds[i] = attr.Kind
		}
	}
	s.keyMu.Unlock()

	if root, ok := s.host.MakeTreeEntry(nil, 0); ok {
		s.aggRoot = root
	}

	s.acquire(primaryThread)
}

// acquire resolves tid's handle. The common case — an already-registered
// thread — is a single atomic load and map read, with no lock and no
// allocation, so it is safe to call from signal context. Only the first
// call for a given tid takes threadsMu, to install a new handle via
// copy-on-write.
func (s *Service) acquire(tid host.ThreadID) *registry.Handle {
	if m := s.threads.Load(); m != nil {
		if h, ok := (*m)[tid]; ok {
			return h
		}
	}

	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()

	old := s.threads.Load()
	if old != nil {
		if h, ok := (*old)[tid]; ok {
			return h
		}
	}

	h := s.reg.Acquire()
	next := make(map[host.ThreadID]*registry.Handle, len(*old)+1)
	for k, v := range *old {
		next[k] = v
	}
	next[tid] = h
	s.threads.Store(&next)
	return h
}

func (s *Service) onProcessSnapshot(tid host.ThreadID, snap host.Snapshot) {
	if s.acquire(tid).Database().Process(snap) {
		s.logger.LogHostRejection(context.Background(), uint64(tid))
	}
}

func (s *Service) onFlush(ctx context.Context) {
	stats := s.reg.FlushAll(ctx, s.host.EmitReducedSnapshot)
	s.logger.LogFlush(ctx, stats.Databases, stats.Emitted, stats.Reclaimed, stats.Dropped)
	for _, err := range stats.Errors {
		s.logger.LogDecodeError(ctx, 0, err)
	}
	s.observer.ObserveFlush(stats)
}

func (s *Service) onFinish() {
	ctx := context.Background()
	s.keyMu.Lock()
	for i, id := range s.keyAttrIDs {
		if id == 0 {
			s.logger.WarnContext(ctx, "configured key attribute was never seen", "name", s.cfg.keyAttrNames[i])
		}
	}
	s.keyMu.Unlock()
	s.logger.InfoContext(ctx, "aggregate service finished")
}

// ReleaseThread lets an embedder with an explicit thread-exit hook retire a
// logical thread's database ahead of GC finalization. Threads without such
// a hook rely on the Handle's finalizer backstop instead.
func (s *Service) ReleaseThread(tid host.ThreadID) {
	s.threadsMu.Lock()
	old := s.threads.Load()
	h, ok := (*old)[tid]
	if ok {
		next := make(map[host.ThreadID]*registry.Handle, len(*old)-1)
		for k, v := range *old {
			if k != tid {
				next[k] = v
			}
		}
		s.threads.Store(&next)
	}
	s.threadsMu.Unlock()
	if ok {
		h.Release()
	}
}

// Name reports the service tag reported to the host, per §6.
func (s *Service) Name() string { return "aggregate" }
