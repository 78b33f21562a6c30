package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradeloop/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs middlewares grouped by stage. A stage runs its middlewares
// concurrently; stages run in ascending order.
type Pipeline struct {
	name   string
	stages [][]Middleware
	slow   time.Duration
}

func New(name string, middlewares ...Middleware) *Pipeline {
	stageMap := make(map[int][]Middleware)
	for _, mw := range middlewares {
		if mw == nil {
			continue
		}
		meta := mw.Meta()
		stageMap[meta.Stage] = append(stageMap[meta.Stage], mw)
	}
	keys := make([]int, 0, len(stageMap))
	for st := range stageMap {
		keys = append(keys, st)
	}
	sort.Ints(keys)
	stages := make([][]Middleware, 0, len(keys))
	for _, st := range keys {
		stages = append(stages, stageMap[st])
	}
	return &Pipeline{name: name, stages: stages, slow: 100 * time.Millisecond}
}

// Names lists the middlewares in execution order.
func (p *Pipeline) Names() []string {
	var out []string
	for _, stage := range p.stages {
		for _, mw := range stage {
			out = append(out, mw.Meta().Name)
		}
	}
	return out
}

// Run executes every stage. Only a critical middleware failure is returned;
// other failures become warnings on ac.
func (p *Pipeline) Run(ctx context.Context, ac *AnalysisContext) error {
	if ac == nil {
		return fmt.Errorf("nil analysis context")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, stage := range p.stages {
		if err := p.runStage(ctx, ac, stage); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, ac *AnalysisContext, stage []Middleware) error {
	group, stageCtx := errgroup.WithContext(ctx)
	warnCh := make(chan *StageError, len(stage))
	for _, mw := range stage {
		mw := mw
		group.Go(func() error {
			meta := mw.Meta()
			runCtx := stageCtx
			if meta.Timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(stageCtx, meta.Timeout)
				defer cancel()
			}
			started := time.Now()
			err := p.invoke(runCtx, mw, ac)
			if d := time.Since(started); d > p.slow {
				logger.Debugf("[pipeline] %s %s slow: %v", p.name, meta.Name, d)
			}
			if err == nil {
				return nil
			}
			wErr := &StageError{Meta: meta, Err: err}
			if meta.Critical {
				return wErr
			}
			warnCh <- wErr
			return nil
		})
	}
	err := group.Wait()
	close(warnCh)
	for warn := range warnCh {
		ac.AddWarning(warn.Error())
		logger.Debugf("[pipeline] %s %s: %s", p.name, ac.Symbol, warn.Error())
	}
	if err == nil {
		return nil
	}
	ac.AddWarning(err.Error())
	return err
}

// invoke converts a middleware panic into an error.
func (p *Pipeline) invoke(ctx context.Context, mw Middleware, ac *AnalysisContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return mw.Handle(ctx, ac)
}
