// Package gruppo provides the main entrypoint for the gruppo library.
package gruppo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Stage defines the interface for a generic stage.
type Stage interface {
	// Init initializes the stage.
	Init(ctx context.Context) error
	// Run runs the stage.
	Run(ctx context.Context)
	// Close closes (forever) the stage.
	Close()
}

// Pipeline represents a generic pipeline.
// It is the entrypoint for the stages.
type Pipeline struct {
	stages []Stage

	wg        sync.WaitGroup
	isRunning atomic.Bool
}

// NewPipeline returns a new pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		stages: []Stage{},
	}
}

// AddStage adds a stage to the pipeline.
// The order of the stages is important.
// Stages added while the pipeline runs are ignored.
func (p *Pipeline) AddStage(stage Stage) {
	if p.isRunning.Load() {
		return
	}

	p.stages = append(p.stages, stage)
}

// Init initializes all the stages, in order.
// It stops at the first failing stage.
func (p *Pipeline) Init(ctx context.Context) error {
	for idx, stage := range p.stages {
		if err := stage.Init(ctx); err != nil {
			return fmt.Errorf("failed to init stage %d: %w", idx, err)
		}
	}

	return nil
}

// Run runs all the stages.
// It will spawn a goroutine for each stage.
func (p *Pipeline) Run(ctx context.Context) {
	if !p.isRunning.CompareAndSwap(false, true) {
		return
	}

	for _, stage := range p.stages {
		p.wg.Go(func() {
			stage.Run(ctx)
		})
	}
}

// Close closes all the stages.
// It blocks until all the stages are closed.
func (p *Pipeline) Close() {
	for _, stage := range p.stages {
		stage.Close()
	}

	p.wg.Wait()
	p.isRunning.Store(false)
}
