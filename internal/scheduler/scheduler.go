// Package scheduler implements spec.md §4.9's due-item and persistent-task
// polling loops: a 60s sweep of scheduled_items that fires notifications and
// re-entrant prompts and advances their recurrence, and a separate poller
// that drives persistent ACT tasks forward via act.RunPersistentTask.
//
// Grounded on the teacher's internal/worker/supervisor.Supervisor Task
// loop shape (ticker-driven Run, one Tick per sweep) and worker/digest's
// dequeue-process pattern, generalized from a queue-consumer loop into a
// time-driven poller over postgres rows.
package scheduler

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/bus"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
	"github.com/cogloop/core/internal/worker/digest"
)

// pollInterval matches spec.md §4.9's literal test ("fires once per minute").
const pollInterval = 60 * time.Second

// maxConsecutiveFailures is the threshold past which a scheduled item is
// abandoned rather than retried forever.
const maxConsecutiveFailures = 3

// batchSize bounds one sweep's due-item fetch.
const batchSize = 100

// Scheduler polls scheduled_items and fires due reminders and re-entrant
// prompts.
type Scheduler struct {
	store  *postgres.Store
	prompt *queue.Queue
	events *bus.Bus
}

func New(store *postgres.Store, prompt *queue.Queue, events *bus.Bus) *Scheduler {
	return &Scheduler{store: store, prompt: prompt, events: events}
}

// Run sweeps every pollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every currently-due item exactly once.
func (s *Scheduler) Tick(ctx context.Context) {
	l := logging.For("scheduler")
	items, err := s.store.DueScheduledItems(ctx, batchSize)
	if err != nil {
		l.Error().Err(err).Msg("load due scheduled items")
		return
	}
	for _, item := range items {
		if err := s.fire(ctx, item); err != nil {
			l.Warn().Err(err).Str("item", item.ID).Msg("fire failed")
			if ferr := s.store.IncrementScheduledFailure(ctx, item.ID); ferr != nil {
				l.Error().Err(ferr).Str("item", item.ID).Msg("record failure")
				continue
			}
			if item.FailureCount+1 > maxConsecutiveFailures {
				if merr := s.store.MarkScheduledItemFired(ctx, item.ID, types.ScheduledFailed); merr != nil {
					l.Error().Err(merr).Str("item", item.ID).Msg("mark failed")
				}
			}
			continue
		}
		if err := s.store.MarkScheduledItemFired(ctx, item.ID, types.ScheduledFired); err != nil {
			l.Error().Err(err).Str("item", item.ID).Msg("mark fired")
			continue
		}
		if item.Recurrence != "" {
			if err := s.scheduleNext(ctx, item); err != nil {
				l.Error().Err(err).Str("item", item.ID).Msg("schedule next occurrence")
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, item types.ScheduledItem) error {
	thread, err := s.store.Thread(ctx, item.ThreadID)
	if err != nil {
		return err
	}
	switch item.Type {
	case types.ItemNotification:
		return s.events.Publish(bus.StreamKey(thread.UserID), bus.Event{
			Type:    "notification",
			Content: item.Message,
			Topic:   thread.CurrentTopic,
		})
	case types.ItemPrompt:
		_, err := s.prompt.Enqueue(ctx, digest.Job{
			UserID:    thread.UserID,
			ChannelID: thread.ChannelID,
			ThreadID:  thread.ID,
			Message:   item.Message,
			CycleType: types.CycleScheduled,
		})
		return err
	default:
		return nil
	}
}

// scheduleNext inserts the next occurrence of a recurring item, preserving
// GroupID and guaranteeing a strictly later DueAt.
func (s *Scheduler) scheduleNext(ctx context.Context, fired types.ScheduledItem) error {
	next, err := NextOccurrence(fired.DueAt, fired.Recurrence, fired.WindowStart, fired.WindowEnd)
	if err != nil {
		return err
	}
	if !next.After(fired.DueAt) {
		next = fired.DueAt.Add(time.Minute)
	}
	groupID := fired.GroupID
	if groupID == "" {
		groupID = fired.ID
	}
	return s.store.InsertScheduledItem(ctx, &types.ScheduledItem{
		ID:          queue.NewID(),
		ThreadID:    fired.ThreadID,
		Type:        fired.Type,
		Message:     fired.Message,
		DueAt:       next,
		Recurrence:  fired.Recurrence,
		WindowStart: fired.WindowStart,
		WindowEnd:   fired.WindowEnd,
		GroupID:     groupID,
		Status:      types.ScheduledPending,
	})
}
