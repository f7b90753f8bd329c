package aiocompl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-aiocompl/internal/backend"
	"github.com/behrlich/go-aiocompl/internal/bwmgr"
	"github.com/behrlich/go-aiocompl/internal/hostprobe"
	"github.com/behrlich/go-aiocompl/internal/logging"
	"github.com/behrlich/go-aiocompl/internal/manager"
)

// Subsystem is the top-level handle a consumer creates once at
// startup (spec.md §4.H "initialize"). It owns the async/failsafe I/O
// managers, the bandwidth groups, the template registry, and every
// endpoint created through it.
type Subsystem struct {
	cfg    Config
	caps   hostprobe.Capabilities
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	normal   *manager.Normal
	failsafe *manager.Failsafe

	templates *templateRegistry

	bwMu     sync.RWMutex
	bwGroups map[string]*bwmgr.Manager

	epMu           sync.Mutex
	endpoints      map[uint64]*Endpoint
	nextEndpointID atomic.Uint64

	debugMu       sync.Mutex
	debugListener io.Closer
}

// NewSubsystem implements spec.md §4.H's initialize: probes the host
// for kernel async I/O and O_DIRECT support, degrading IoMgr/FileBackend
// to their synchronous/buffered fallbacks rather than failing outright
// when a capability is missing, then starts whichever managers the
// resulting configuration needs. Grounded on the teacher's
// internal/ctrl.NewController startup sequence (probe, degrade, start
// the runner goroutines).
func NewSubsystem(cfg *Config) (*Subsystem, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := logging.NewLogger(cfg.Logging)

	caps := hostprobe.Probe(os.TempDir(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subsystem{
		cfg:       *cfg,
		caps:      caps,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		templates: newTemplateRegistry(),
		bwGroups:  make(map[string]*bwmgr.Manager),
		endpoints: make(map[uint64]*Endpoint),
	}

	now := time.Now()
	for _, g := range cfg.BwGroups {
		s.bwGroups[g.Name] = bwmgr.New(bwmgr.Config{Name: g.Name, Max: g.Max, Start: g.Start, Step: g.Step}, now)
	}

	s.failsafe = manager.NewFailsafe(manager.FailsafeConfig{Logger: logger})
	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.failsafe.Run(ctx) }()

	if cfg.IoMgr == IoMgrAsync && caps.AsyncIOSupported {
		n, err := manager.NewNormal(manager.NormalConfig{
			RingEntries:      uint32(DefaultQueueDepth),
			ActiveRequestMax: cfg.ActiveRequestsMax,
			Logger:           logger,
			IsFatal:          IsFatal,
			OnMigrate:        s.onMigrate,
		})
		if err != nil {
			logger.Warn("kernel ring unavailable, falling back to Simple io manager", "error", err)
		} else {
			s.normal = n
			s.wg.Add(1)
			go func() { defer s.wg.Done(); s.normal.Run(ctx) }()
		}
	}

	if cfg.DebugSocketPath != "" && cfg.EnableDebugHooks {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeDebugSocket(cfg.DebugSocketPath); err != nil {
				logger.Warn("debug socket failed", "error", err)
			}
		}()
	}

	return s, nil
}

// onMigrate is internal/manager.Normal's OnMigrate hook: it only knows
// the manager-level EndpointState, so it looks up the owning Endpoint
// to repoint it at the failsafe manager (spec.md §4.F "degrade-on-error").
func (s *Subsystem) onMigrate(ep *manager.EndpointState) {
	s.epMu.Lock()
	e := s.endpoints[ep.ID]
	s.epMu.Unlock()
	if e == nil {
		return
	}
	e.setManager(s.failsafe)
	s.failsafe.AddEndpoint(ep)
}

func (s *Subsystem) bandwidthManager(name string) *bwmgr.Manager {
	s.bwMu.RLock()
	defer s.bwMu.RUnlock()
	return s.bwGroups[name]
}

// SetBandwidthMax implements spec.md §4.H's setBandwidthMax: updates an
// existing group's cap, or creates the group if it doesn't exist yet.
func (s *Subsystem) SetBandwidthMax(name string, bytesPerSec int64) error {
	s.bwMu.Lock()
	defer s.bwMu.Unlock()
	if m, ok := s.bwGroups[name]; ok {
		m.SetMax(bytesPerSec)
		return nil
	}
	s.bwGroups[name] = bwmgr.New(bwmgr.Config{Name: name, Max: bytesPerSec}, time.Now())
	return nil
}

// CreateForFile implements spec.md §4.H's createForFile: opens path as
// a backend according to this subsystem's FileBackend/NON_BUFFERED
// configuration, wires it to whichever manager can actually serve it
// (Normal when the host supports kernel async I/O and the backend
// exposes a file descriptor, Failsafe otherwise), and returns the new
// Endpoint bound to tmpl.
func (s *Subsystem) CreateForFile(path string, flags OpenFlags, tmpl *Template) (*Endpoint, error) {
	nonBuffered := s.cfg.FileBackend == FileBackendNonBuffered && s.caps.NonBufferedSupported
	alignment := 0
	if nonBuffered {
		alignment = AlignmentBytes
	}

	be, err := backend.OpenFile(path, nonBuffered, alignment)
	if err != nil {
		return nil, WrapError("CreateForFile", err)
	}

	id := s.nextEndpointID.Add(1)
	name := filepath.Base(path)
	state := manager.NewEndpointState(id, name, be, alignment, s.cfg.RequestCacheCap, BounceWindowBytes)

	ep := &Endpoint{
		id:          id,
		path:        path,
		readOnly:    flags&OpenReadOnly != 0,
		nonBuffered: nonBuffered,
		alignment:   alignment,
		backend:     be,
		state:       state,
		stats:       NewStats(time.Now()),
		sub:         s,
		tmpl:        tmpl,
	}
	ep.cachedSize.Store(be.Size())

	chosen := s.chooseManager(be)
	ep.setManager(chosen)

	s.epMu.Lock()
	s.endpoints[id] = ep
	s.epMu.Unlock()

	chosen.AddEndpoint(state)
	return ep, nil
}

func (s *Subsystem) chooseManager(be backend.Backend) ioManager {
	if s.normal != nil {
		if _, ok := be.(manager.FDBackend); ok {
			return s.normal
		}
	}
	return s.failsafe
}

// CreateDeviceTemplate, CreateDriverTemplate, CreateInternalTemplate,
// and CreateUSBTemplate create a completion binding of the matching
// owner class (spec.md §3 "Template" kinds).
func (s *Subsystem) CreateDeviceTemplate(owner any, cb CompletionFunc, user any) (*Template, error) {
	return s.templates.create(TemplateDevice, owner, cb, user), nil
}

func (s *Subsystem) CreateDriverTemplate(owner any, cb CompletionFunc, user any) (*Template, error) {
	return s.templates.create(TemplateDriver, owner, cb, user), nil
}

func (s *Subsystem) CreateInternalTemplate(owner any, cb CompletionFunc, user any) (*Template, error) {
	return s.templates.create(TemplateInternal, owner, cb, user), nil
}

func (s *Subsystem) CreateUSBTemplate(owner any, cb CompletionFunc, user any) (*Template, error) {
	return s.templates.create(TemplateUSB, owner, cb, user), nil
}

// DestroyTemplate destroys a single template, failing CodeBusy if it
// still has in-flight tasks (spec.md §4.I).
func (s *Subsystem) DestroyTemplate(t *Template) error {
	return s.templates.destroy(t)
}

// DestroyTemplatesByOwner destroys every template owned by owner
// (spec.md §4.I bulk teardown).
func (s *Subsystem) DestroyTemplatesByOwner(owner any) error {
	return s.templates.destroyByOwner(owner)
}

// Terminate implements spec.md §4.H's terminate: closes every
// still-open endpoint, shuts down both managers, and waits for their
// goroutines to exit.
func (s *Subsystem) Terminate() error {
	s.epMu.Lock()
	endpoints := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		endpoints = append(endpoints, ep)
	}
	s.epMu.Unlock()
	for _, ep := range endpoints {
		ep.Close()
	}

	if s.normal != nil {
		s.normal.Shutdown()
	}
	s.failsafe.Shutdown()
	s.cancel()

	s.debugMu.Lock()
	if s.debugListener != nil {
		s.debugListener.Close()
	}
	s.debugMu.Unlock()

	s.wg.Wait()
	return nil
}
