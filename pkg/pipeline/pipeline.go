package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// Container events fired through the pipeline's owner.
const (
	EventAddValve    = "add_valve"
	EventRemoveValve = "remove_valve"
)

var (
	// ErrEmptyPipeline is returned when a pipeline with no valves is invoked.
	ErrEmptyPipeline = errors.New("pipeline: no valves")

	// ErrDuplicateValve is returned when a valve already in the chain is added again.
	ErrDuplicateValve = errors.New("pipeline: valve already in chain")
)

// Pipeline is the valve chain owned by one container. All mutations
// replace the chain under one lock and relink it from tail to head, so an
// Invoke running concurrently always walks a well-formed chain.
//
// Mutators are serialized by editMu, held from the valve start to the
// splice. Valve Start and Stop hooks must not mutate their own pipeline.
type Pipeline struct {
	lifecycle.Runner

	owner  Owner
	logger log.Logger

	editMu sync.Mutex

	mu     sync.RWMutex
	valves []Valve
	basic  Valve
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates an empty pipeline owned by owner.
func New(owner Owner, opts ...Option) *Pipeline {
	p := &Pipeline{owner: owner}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.OrNoop(p.logger)

	name := "pipeline"
	if owner != nil {
		name = owner.Name() + "/pipeline"
	}
	p.Bind(p, name, lifecycle.Hooks{
		Start:   p.startInternal,
		Stop:    p.stopInternal,
		Destroy: p.destroyInternal,
	}, lifecycle.WithLogger(p.logger))
	return p
}

// Owner returns the owning container.
func (p *Pipeline) Owner() Owner {
	return p.owner
}

// Basic returns the terminal valve, or nil.
func (p *Pipeline) Basic() Valve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.basic
}

// First returns the head of the chain: the first extra valve, else basic.
func (p *Pipeline) First() Valve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.valves) > 0 {
		return p.valves[0]
	}
	return p.basic
}

// Valves returns the chain in traversal order, basic last.
func (p *Pipeline) Valves() []Valve {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chainLocked()
}

// SetBasic replaces the terminal valve. If the pipeline is available, v is
// started before it is linked in; when that fails the previous basic stays
// in place and the error is returned. The previous basic is then stopped,
// disassociated and destroyed. A valve already in the prefix is rejected
// with ErrDuplicateValve.
func (p *Pipeline) SetBasic(v Valve) error {
	p.editMu.Lock()
	defer p.editMu.Unlock()

	old := p.Basic()
	if v == old {
		return nil
	}

	if v != nil {
		if p.contains(v) {
			return fmt.Errorf("set basic valve: %w", ErrDuplicateValve)
		}
		p.associate(v)
		if err := p.startValve(v); err != nil {
			p.disassociate(v)
			return fmt.Errorf("set basic valve: %w", err)
		}
	}

	p.mu.Lock()
	p.basic = v
	p.relinkLocked()
	p.mu.Unlock()

	if old != nil {
		p.retire(old)
	}
	return nil
}

// AddValve inserts v immediately before the basic valve. If the pipeline is
// available v is started first; a valve that fails to start is not added.
// A valve already in the chain is rejected with ErrDuplicateValve.
func (p *Pipeline) AddValve(v Valve) error {
	if v == nil {
		return nil
	}

	p.editMu.Lock()
	defer p.editMu.Unlock()

	if p.contains(v) {
		return fmt.Errorf("add valve: %w", ErrDuplicateValve)
	}
	p.associate(v)
	if err := p.startValve(v); err != nil {
		p.disassociate(v)
		return fmt.Errorf("add valve: %w", err)
	}

	p.mu.Lock()
	next := make([]Valve, len(p.valves), len(p.valves)+1)
	copy(next, p.valves)
	p.valves = append(next, v)
	p.relinkLocked()
	p.mu.Unlock()

	p.fire(EventAddValve, v)
	return nil
}

// RemoveValve unlinks v, disassociates it and, for lifecycle valves, stops
// and destroys it. Failures are logged. The remove_valve event fires even
// when v was not part of the chain.
func (p *Pipeline) RemoveValve(v Valve) {
	if v == nil {
		return
	}

	p.editMu.Lock()
	p.mu.Lock()
	found := false
	if v == p.basic {
		p.basic = nil
		found = true
	} else {
		for i, existing := range p.valves {
			if existing == v {
				next := make([]Valve, 0, len(p.valves)-1)
				next = append(next, p.valves[:i]...)
				p.valves = append(next, p.valves[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		p.relinkLocked()
	}
	p.mu.Unlock()

	if found {
		p.retire(v)
	} else {
		p.disassociate(v)
	}
	p.editMu.Unlock()

	p.fire(EventRemoveValve, v)
}

// Invoke dispatches ex to the head of the chain.
func (p *Pipeline) Invoke(ctx context.Context, ex *Exchange) error {
	first := p.First()
	if first == nil {
		return ErrEmptyPipeline
	}
	return first.Invoke(ctx, ex)
}

// Event dispatches ev to the head of the chain.
func (p *Pipeline) Event(ctx context.Context, ex *Exchange, ev Event) error {
	first := p.First()
	if first == nil {
		return nil
	}
	return first.Event(ctx, ex, ev)
}

// BackgroundProcess ticks every valve in chain order.
func (p *Pipeline) BackgroundProcess() {
	for _, v := range p.Valves() {
		v.BackgroundProcess()
	}
}

func (p *Pipeline) startInternal() error {
	p.editMu.Lock()
	defer p.editMu.Unlock()
	for _, v := range p.Valves() {
		if c, ok := v.(lifecycle.Component); ok {
			if err := c.Start(); err != nil {
				return err
			}
		}
	}
	return p.SetState(lifecycle.StateStarting)
}

func (p *Pipeline) stopInternal() error {
	if err := p.SetState(lifecycle.StateStopping); err != nil {
		return err
	}
	p.editMu.Lock()
	defer p.editMu.Unlock()
	for _, v := range p.Valves() {
		if c, ok := v.(lifecycle.Component); ok {
			if err := c.Stop(); err != nil {
				p.logger.Error("failed to stop valve",
					log.String("pipeline", p.name()),
					log.Err(err))
			}
		}
	}
	return nil
}

func (p *Pipeline) destroyInternal() error {
	for _, v := range p.Valves() {
		p.RemoveValve(v)
	}
	return nil
}

func (p *Pipeline) contains(v Valve) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v == p.basic {
		return true
	}
	for _, existing := range p.valves {
		if existing == v {
			return true
		}
	}
	return false
}

func (p *Pipeline) chainLocked() []Valve {
	chain := make([]Valve, 0, len(p.valves)+1)
	chain = append(chain, p.valves...)
	if p.basic != nil {
		chain = append(chain, p.basic)
	}
	return chain
}

// relinkLocked rewrites next pointers from the tail so every valve already
// reachable from the head keeps pointing into the new chain.
func (p *Pipeline) relinkLocked() {
	chain := p.chainLocked()
	for i := len(chain) - 1; i >= 0; i-- {
		if i == len(chain)-1 {
			chain[i].SetNext(nil)
			continue
		}
		chain[i].SetNext(chain[i+1])
	}
}

func (p *Pipeline) startValve(v Valve) error {
	if !p.State().Available() {
		return nil
	}
	if c, ok := v.(lifecycle.Component); ok {
		return c.Start()
	}
	return nil
}

// retire stops and destroys a valve that has left the chain.
func (p *Pipeline) retire(v Valve) {
	if c, ok := v.(lifecycle.Component); ok {
		if c.State().Available() || c.State() == lifecycle.StateFailed {
			if err := c.Stop(); err != nil {
				p.logger.Error("failed to stop removed valve",
					log.String("pipeline", p.name()),
					log.Err(err))
			}
		}
	}
	p.disassociate(v)
	if c, ok := v.(lifecycle.Component); ok {
		if err := c.Destroy(); err != nil {
			p.logger.Error("failed to destroy removed valve",
				log.String("pipeline", p.name()),
				log.Err(err))
		}
	}
}

func (p *Pipeline) associate(v Valve) {
	if c, ok := v.(Contained); ok && p.owner != nil {
		c.SetContainer(p.owner)
	}
}

func (p *Pipeline) disassociate(v Valve) {
	if c, ok := v.(Contained); ok {
		c.SetContainer(nil)
	}
}

func (p *Pipeline) fire(eventType string, v Valve) {
	if p.owner != nil {
		p.owner.FireContainerEvent(eventType, v)
	}
}

func (p *Pipeline) name() string {
	if p.owner != nil {
		return p.owner.Name()
	}
	return ""
}
