// Package cleanup prunes expired audit records on a schedule
package cleanup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

// Subject receives a notification after each prune cycle that removed rows
const Subject = "qcloud.audit.pruned"

// Pruner deletes records older than a cutoff. *audit.Store satisfies it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher sends a notification. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config contains configuration for the retention service
type Config struct {
	Retention time.Duration
	Interval  time.Duration
	DryRun    bool
}

// Notification describes one completed prune cycle
type Notification struct {
	Cutoff  time.Time `json:"cutoff"`
	Removed int64     `json:"removed"`
	RunAt   time.Time `json:"run_at"`
}

// Service periodically removes audit records past their retention
type Service struct {
	pruner    Pruner
	publisher Publisher
	config    Config
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService creates a new retention service; publisher may be nil
func NewService(pruner Pruner, publisher Publisher, config Config) *Service {
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	return &Service{
		pruner:    pruner,
		publisher: publisher,
		config:    config,
		log:       telemetry.L().WithField("component", "audit-retention"),
		now:       time.Now,
	}
}

// Start runs a cycle immediately and then every Interval until ctx is done
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"dry_run":   s.config.DryRun,
		"interval":  s.config.Interval.String(),
		"retention": s.config.Retention.String(),
	}).Info("Audit retention started")

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.log.Info("Audit retention stopped")
			return
		}
	}
}

// RunOnce executes a single prune cycle and returns the number of removed records
func (s *Service) RunOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.config.Retention)

	if s.config.DryRun {
		s.log.WithField("cutoff", cutoff).Info("DRY RUN: would prune audit records")
		return 0
	}

	removed, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("Failed to prune audit records")
		return 0
	}

	s.log.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"removed": removed,
	}).Info("Audit retention cycle completed")

	if removed > 0 && s.publisher != nil {
		s.notify(Notification{Cutoff: cutoff, Removed: removed, RunAt: s.now()})
	}
	return removed
}

func (s *Service) notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(Subject, data); err != nil {
		s.log.WithError(err).Warn("Failed to send retention notification")
	}
}
