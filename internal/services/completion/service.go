// Package completion closes stages automatically: when the last open task of
// an active stage reaches a terminal status, the stage is completed.
package completion

import (
	"context"
	"errors"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

// Engine is the slice of the roadmap engine this detector drives.
type Engine interface {
	CompleteStage(ctx context.Context, stageID string) error
}

type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	store  roadmap.Store
	engine Engine
}

func New(store roadmap.Store, engine Engine, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, bus: bus, store: store, engine: engine}
}

// Run consumes task completion events until ctx is done. It is meant to run
// under a restarting supervisor.
func (s *Service) Run(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != roadmap.EventTaskCompleted {
				continue
			}
			te, ok := ev.Data.(roadmap.TaskEvent)
			if !ok || te.StageID == "" {
				continue
			}
			s.checkStage(ctx, te.StageID)
		}
	}
}

// checkStage completes the stage iff it is active and every task is terminal.
// A stage with no tasks is left alone; emptiness is not completion.
func (s *Service) checkStage(ctx context.Context, stageID string) {
	var done bool
	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		st, err := tx.Stage(ctx, stageID)
		if err != nil {
			return err
		}
		if st.Status != roadmap.StageActive {
			return nil
		}
		tasks, err := tx.StageTasks(ctx, stageID)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		for _, task := range tasks {
			if !task.Status.Terminal() {
				return nil
			}
		}
		done = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, roadmap.ErrNotFound) {
			s.log.Warn("stage completion check failed", logx.String("stage_id", stageID), logx.Err(err))
		}
		return
	}
	if !done {
		return
	}

	if err := s.engine.CompleteStage(ctx, stageID); err != nil {
		// A racing manual completion is fine; anything else is worth noting.
		if !errors.Is(err, roadmap.ErrInvalidState) {
			s.log.Warn("auto-complete failed", logx.String("stage_id", stageID), logx.Err(err))
		}
		return
	}
	s.log.Info("stage auto-completed", logx.String("stage_id", stageID))
}
