package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

var (
	// ErrNotMounted is returned when registering an attribute the owner does not mount.
	ErrNotMounted = errors.New("attribute is not mounted")

	// ErrIncompatibleWorker is returned when the worker kind cannot complete the
	// work the mode defers. A store-in-background save leaves only a cache entry,
	// which a process-only worker never stores.
	ErrIncompatibleWorker = errors.New("worker kind is incompatible with mode")
)

// Entry is the background configuration of one mounted attribute.
type Entry struct {
	OwnerType  string
	Attribute  string
	Mode       model.Mode
	WorkerKind model.WorkerKind
}

// Policy decides, per record attribute, whether a save defers its upload work.
// Entries are registered at start-up and only read afterwards.
type Policy struct {
	mu      sync.RWMutex
	entries map[key]Entry
}

type key struct {
	ownerType string
	attribute string
}

// New creates an empty Policy.
func New() *Policy {
	return &Policy{entries: make(map[key]Entry)}
}

// Register enables background handling of attribute on records like owner.
// An empty kind selects the default worker for mode. Registering the same
// attribute twice replaces the previous entry.
func (p *Policy) Register(owner model.Record, attribute string, mode model.Mode, kind model.WorkerKind) error {
	if owner == nil {
		return fmt.Errorf("register %s: owner is required", attribute)
	}
	ownerType := owner.OwnerType()

	if owner.Attachment(attribute) == nil {
		return fmt.Errorf("register %s.%s: %w", ownerType, attribute, ErrNotMounted)
	}

	if _, err := model.ParseMode(string(mode)); err != nil {
		return fmt.Errorf("register %s.%s: %w", ownerType, attribute, err)
	}

	if kind == "" {
		kind = mode.DefaultWorkerKind()
	}
	if !kind.Valid() {
		return fmt.Errorf("register %s.%s: %w: %q", ownerType, attribute, model.ErrUnknownWorkerKind, kind)
	}
	if mode == model.StoreInBackground && kind == model.ProcessOnly {
		return fmt.Errorf("register %s.%s: %w: %s with %s", ownerType, attribute, ErrIncompatibleWorker, mode, kind)
	}

	entry := Entry{
		OwnerType:  ownerType,
		Attribute:  attribute,
		Mode:       mode,
		WorkerKind: kind,
	}

	p.mu.Lock()
	prev, replaced := p.entries[key{ownerType, attribute}]
	p.entries[key{ownerType, attribute}] = entry
	p.mu.Unlock()

	if replaced {
		zlog.Logger.Warn().
			Str("owner_type", ownerType).
			Str("attribute", attribute).
			Str("previous_mode", string(prev.Mode)).
			Str("mode", string(mode)).
			Msg("background handling registered twice, previous entry replaced")
	}

	return nil
}

// Lookup returns the entry registered for ownerType and attribute.
func (p *Policy) Lookup(ownerType, attribute string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[key{ownerType, attribute}]
	return e, ok
}

// Entries returns every entry registered for ownerType, ordered by attribute.
func (p *Policy) Entries(ownerType string) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Entry
	for k, e := range p.entries {
		if k.ownerType == ownerType {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attribute < out[j].Attribute })

	return out
}

// ShouldEnqueue reports whether saving rec defers the work on attribute.
// It is the negation of the attachment's ProcessOverride flag, and false for
// attributes rec does not mount.
func (p *Policy) ShouldEnqueue(rec model.Record, attribute string) bool {
	att := rec.Attachment(attribute)
	if att == nil {
		return false
	}

	return !att.ProcessOverride
}
