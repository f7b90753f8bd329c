package aiocompl

import (
	"sync"
)

// TemplateKind tags which owner class a Template is bound to
// (spec.md §3 "Template").
type TemplateKind int

const (
	TemplateDevice TemplateKind = iota
	TemplateDriver
	TemplateInternal
	TemplateUSB
)

func (k TemplateKind) String() string {
	switch k {
	case TemplateDevice:
		return "DEVICE"
	case TemplateDriver:
		return "DRIVER"
	case TemplateInternal:
		return "INTERNAL"
	case TemplateUSB:
		return "USB"
	default:
		return "UNKNOWN"
	}
}

// CompletionFunc is the consumer-supplied completion callback invoked
// exactly once per Task (spec.md §4.J). owner is the Template's
// owner, user is the Template's own per-kind user payload, status is
// nil on success.
type CompletionFunc func(owner any, task *Task, user any, status error)

// Template is a completion binding (spec.md §3 "Template"). Created
// at owner initialization, destroyed only once useCount reaches zero.
type Template struct {
	kind     TemplateKind
	owner    any
	callback CompletionFunc
	user     any

	mu       sync.Mutex
	useCount int
	destroyed bool
}

func newTemplate(kind TemplateKind, owner any, cb CompletionFunc, user any) *Template {
	return &Template{kind: kind, owner: owner, callback: cb, user: user}
}

func (t *Template) retain() {
	t.mu.Lock()
	t.useCount++
	t.mu.Unlock()
}

func (t *Template) release() {
	t.mu.Lock()
	t.useCount--
	t.mu.Unlock()
}

func (t *Template) inUse() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.useCount > 0
}

// templateRegistry is a per-Subsystem slice of templates guarded by
// one mutex, mirroring spec.md §4.I's "PDM list
// critical section" (rare path: registration and bulk teardown only).
type templateRegistry struct {
	mu        sync.Mutex
	templates []*Template
}

func newTemplateRegistry() *templateRegistry {
	return &templateRegistry{}
}

func (r *templateRegistry) create(kind TemplateKind, owner any, cb CompletionFunc, user any) *Template {
	t := newTemplate(kind, owner, cb, user)
	r.mu.Lock()
	r.templates = append(r.templates, t)
	r.mu.Unlock()
	return t
}

// destroy unlinks and frees t, failing with CodeBusy if its use-count
// is still positive (spec.md §4.I).
func (r *templateRegistry) destroy(t *Template) error {
	if t.inUse() {
		return NewError("DestroyTemplate", CodeBusy, "template has in-flight tasks")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.templates {
		if v == t {
			r.templates = append(r.templates[:i], r.templates[i+1:]...)
			t.destroyed = true
			return nil
		}
	}
	return nil
}

// destroyByOwner removes every template owned by owner, stopping at
// the first busy one (spec.md §3: "partial destruction is allowed —
// templates destroyed before the busy one stay destroyed; this is an
// observed property, not a bug" — preserved here rather than made
// atomic, per the open-question resolution in DESIGN.md).
func (r *templateRegistry) destroyByOwner(owner any) error {
	r.mu.Lock()
	var owned []*Template
	for _, t := range r.templates {
		if t.owner == owner {
			owned = append(owned, t)
		}
	}
	r.mu.Unlock()

	for _, t := range owned {
		if err := r.destroy(t); err != nil {
			return err
		}
	}
	return nil
}
