// Package pipeline renders a scene onto a surface as an ordered list of
// steps, notifying hooks around each one.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/hooks"
)

// Pipeline executes a sequence of Steps against one surface.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run draws scene onto dst.  It stops at the first failing step and returns
// per-step timings for the steps that ran.
func (p *Pipeline) Run(ctx context.Context, dst *core.Surface, scene core.Scene) (map[string]time.Duration, error) {
	if dst == nil {
		return nil, apperrors.New(apperrors.CategoryRender, "pipeline.run", apperrors.ErrInvalidDimensions)
	}
	timings := make(map[string]time.Duration, len(p.steps))

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return timings, apperrors.Wrap(apperrors.CategoryRender, step.Name(), err)
		}

		start := time.Now()
		err := hooks.Observe(ctx, p.hooks, step.Name(), func() error {
			return step.Execute(ctx, dst, scene)
		})
		timings[step.Name()] = time.Since(start)
		if err != nil {
			return timings, err
		}
	}
	return timings, nil
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps: make([]core.Step, len(p.steps)),
		hooks: make([]core.Hook, len(p.hooks)),
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}
