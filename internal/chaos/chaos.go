// Package chaos provides deterministic fault injection for intercepted
// tool calls. Given a seeded config, an Engine answers per-tool delay,
// error-injection, and corruption decisions that replay identically for
// the same seed and query order.
package chaos

import (
	"sync"
)

// Applied describes the chaos decisions made for one request. It is
// journaled alongside the rpc_response event so a trace can be replayed.
// Only the seed identifies the decision stream; replay reproduces the
// same sequence only when requests are replayed in identical order.
type Applied struct {
	Seed          uint32 `json:"seed"`
	DelayMs       int    `json:"delayMs,omitempty"`
	ErrorInjected bool   `json:"errorInjected,omitempty"`
	Corrupted     bool   `json:"corrupted,omitempty"`
}

// Engine yields deterministic perturbations for tool calls. The PRNG
// state is private to one run; methods are safe for concurrent use but
// decision order then follows lock acquisition order.
type Engine struct {
	mu  sync.Mutex
	cfg *Config
	rng mulberry32
}

// NewEngine creates an engine for one run. A nil config yields an
// engine that never perturbs anything.
func NewEngine(cfg *Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg != nil {
		e.rng = mulberry32{state: cfg.Seed}
	}
	return e
}

// Seed returns the engine's configured seed.
func (e *Engine) Seed() uint32 {
	if e.cfg == nil {
		return 0
	}
	return e.cfg.Seed
}

// Delay returns the injected delay in milliseconds for a call to the
// named tool, or 0.
func (e *Engine) Delay(tool string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delayLocked(tool)
}

// ShouldFail reports whether an error response should be substituted
// for a call to the named tool.
func (e *Engine) ShouldFail(tool string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chanceLocked(e.rule(tool).FailRate)
}

// ShouldCorrupt reports whether the response payload should be wrapped
// in a corruption envelope.
func (e *Engine) ShouldCorrupt(tool string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chanceLocked(e.rule(tool).CorruptRate)
}

// Apply draws all three decisions for one request in a fixed order
// (delay, fail, corrupt) and returns the descriptor. Returns nil when
// no chaos is configured or nothing fired.
func (e *Engine) Apply(tool string) *Applied {
	if e.cfg == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.rule(tool)
	applied := &Applied{
		Seed:          e.cfg.Seed,
		DelayMs:       e.delayRuleLocked(rule),
		ErrorInjected: e.chanceLocked(rule.FailRate),
		Corrupted:     e.chanceLocked(rule.CorruptRate),
	}
	if applied.DelayMs == 0 && !applied.ErrorInjected && !applied.Corrupted {
		return nil
	}
	return applied
}

func (e *Engine) delayLocked(tool string) int {
	return e.delayRuleLocked(e.rule(tool))
}

func (e *Engine) delayRuleLocked(rule Rule) int {
	pv := rule.DelayMs
	if pv == nil {
		return 0
	}
	if e.rng.float() >= pv.P {
		return 0
	}
	if pv.Value != nil {
		return *pv.Value
	}
	if pv.Max > pv.Min {
		return pv.Min + int(e.rng.float()*float64(pv.Max-pv.Min+1))
	}
	return pv.Min
}

// chanceLocked draws once and fires with the given probability. A
// missing rate (nil) means no effect and consumes no randomness.
func (e *Engine) chanceLocked(rate *float64) bool {
	if rate == nil || *rate <= 0 {
		return false
	}
	return e.rng.float() < *rate
}

// rule resolves the effective rule for a tool: per-tool fields
// shallow-merged over the global rule.
func (e *Engine) rule(tool string) Rule {
	if e.cfg == nil {
		return Rule{}
	}
	merged := Rule{}
	if e.cfg.Global != nil {
		merged = *e.cfg.Global
	}
	if override, ok := e.cfg.Tools[tool]; ok && override != nil {
		if override.DelayMs != nil {
			merged.DelayMs = override.DelayMs
		}
		if override.FailRate != nil {
			merged.FailRate = override.FailRate
		}
		if override.CorruptRate != nil {
			merged.CorruptRate = override.CorruptRate
		}
	}
	return merged
}

// mulberry32 is a 32-bit-state PRNG matching the widely used mulberry32
// generator, so seeds shared with other tooling reproduce the same
// decision stream across platforms.
type mulberry32 struct {
	state uint32
}

func (r *mulberry32) next() uint32 {
	r.state += 0x6D2B79F5
	z := r.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return z ^ (z >> 14)
}

func (r *mulberry32) float() float64 {
	return float64(r.next()) / 4294967296.0
}
