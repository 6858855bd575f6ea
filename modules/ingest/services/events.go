package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/etx-ingest/pkg/eventbus"
)

type GroupPublished struct {
	File     string
	Key      string
	EntityID string
	Rows     int
	Attempts int
}

type GroupFailed struct {
	File     string
	Key      string
	EntityID string
	Rows     int
	Attempts int
	Err      error
	CSV      string
}

type GroupUnresolved struct {
	File        string
	Key         string
	Rows        int
	Suggestions []string
	CSV         string
}

type FileSkipped struct {
	File   string
	Reason string
}

type WorkflowFinished struct {
	Workflow string
	Counters Counters
	Elapsed  time.Duration
	Err      error
}

// LogProgress writes every pipeline event to log.
func LogProgress(bus eventbus.Bus, log *logrus.Logger) func() {
	unsubs := []func(){
		bus.Subscribe(func(e *GroupPublished) {
			log.WithFields(logrus.Fields{"file": e.File, "group": e.Key, "es_id": e.EntityID, "rows": e.Rows, "attempts": e.Attempts}).
				Info("group published")
		}),
		bus.Subscribe(func(e *GroupFailed) {
			log.WithFields(logrus.Fields{"file": e.File, "group": e.Key, "es_id": e.EntityID, "rows": e.Rows, "attempts": e.Attempts}).
				WithError(e.Err).Warn("group publish failed")
		}),
		bus.Subscribe(func(e *GroupUnresolved) {
			log.WithFields(logrus.Fields{"file": e.File, "group": e.Key, "rows": e.Rows, "closest": e.Suggestions}).
				Error("cannot find entity id for group")
		}),
		bus.Subscribe(func(e *FileSkipped) {
			log.WithFields(logrus.Fields{"file": e.File, "reason": e.Reason}).Info("skipping file")
		}),
		bus.Subscribe(func(e *WorkflowFinished) {
			entry := log.WithFields(logrus.Fields{
				"workflow":   e.Workflow,
				"success":    e.Counters.Success,
				"error":      e.Counters.Error,
				"unresolved": e.Counters.Unresolved,
				"elapsed":    e.Elapsed.Round(time.Millisecond).String(),
			})
			if e.Err != nil {
				entry.WithError(e.Err).Error("workflow failed")
				return
			}
			entry.Info("workflow finished")
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
