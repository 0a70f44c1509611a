package notify

import (
	"context"
	"fmt"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	kit "roadmapd/internal/transport"
)

// consumeLoop turns roadmap events into notifications for the configured
// target. It drops silently when the bus is absent.
func (s *Service) consumeLoop(ctx context.Context) {
	if s.bus == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text, prio, renderable := renderEvent(ev)
			if !renderable {
				continue
			}
			s.mu.Lock()
			target := s.cfg.Target
			s.mu.Unlock()
			if target.ChatID == 0 {
				continue
			}
			_ = s.Notify(ctx, kit.Notification{
				Channel:  "telegram",
				Priority: prio,
				Target:   target,
				Text:     text,
			})
		}
	}
}

// renderEvent maps a roadmap event to human-readable text and priority.
// Unknown event types (including the pipeline's own notify.* events) are
// not renderable.
func renderEvent(ev eventbus.Event) (string, int, bool) {
	switch ev.Type {
	case roadmap.EventStageActivated:
		d, ok := ev.Data.(roadmap.StageEvent)
		if !ok {
			return "", 0, false
		}
		return fmt.Sprintf("Stage %q activated (%d tasks scheduled)", d.Name, d.TaskCount), 5, true

	case roadmap.EventStageCompleted:
		d, ok := ev.Data.(roadmap.StageEvent)
		if !ok {
			return "", 0, false
		}
		return fmt.Sprintf("Stage %q completed", d.Name), 5, true

	case roadmap.EventLevel1Activated:
		d, ok := ev.Data.(roadmap.Level1Event)
		if !ok {
			return "", 0, false
		}
		return fmt.Sprintf("Phase %d of project %s is now active", d.OrderIndex+1, d.ProjectID), 5, true

	case roadmap.EventLevel1Completed:
		d, ok := ev.Data.(roadmap.Level1Event)
		if !ok {
			return "", 0, false
		}
		return fmt.Sprintf("Phase %d of project %s completed", d.OrderIndex+1, d.ProjectID), 5, true

	case roadmap.EventTaskCreated:
		d, ok := ev.Data.(roadmap.TaskEvent)
		if !ok {
			return "", 0, false
		}
		due := ""
		if !d.Deadline.IsZero() {
			due = ", due " + d.Deadline.Format(dueFormat)
		}
		if d.AssigneeID != 0 {
			return fmt.Sprintf("Task %q assigned to user %d%s", d.Title, d.AssigneeID, due), 3, true
		}
		return fmt.Sprintf("Task %q needs an owner%s", d.Title, due), 3, true

	case roadmap.EventTaskOverdue:
		d, ok := ev.Data.(roadmap.TaskEvent)
		if !ok {
			return "", 0, false
		}
		who := "unassigned"
		if d.AssigneeID != 0 {
			who = fmt.Sprintf("user %d", d.AssigneeID)
		}
		return fmt.Sprintf("Task %q (%s) is overdue since %s", d.Title, who, d.Deadline.Format(dueFormat)), 7, true
	}
	return "", 0, false
}

const dueFormat = "2006-01-02 15:04 MST"
