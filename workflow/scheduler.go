package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler triggers full costing runs on a cron schedule. A run still in
// progress makes the next tick a no-op.
type Scheduler struct {
	cron     *cron.Cron
	workflow *CostingWorkflow
	logger   *logrus.Logger
	timeout  time.Duration
}

func NewScheduler(workflow *CostingWorkflow, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		workflow: workflow,
		logger:   logger,
		timeout:  30 * time.Minute,
	}
}

// Schedule examples:
//   - "0 */15 * * * *" every 15 minutes
//   - "@every 1h"
func (s *Scheduler) Schedule(spec string) error {
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"schedule": spec}).Info("kardex.scheduler.registered")
	return nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = utils.SetTriggerInContext(ctx, "cron")

	report, err := s.workflow.Run(ctx)
	fields := logrus.Fields{
		"run_id":    report.RunID,
		"succeeded": len(report.Succeeded),
		"failed":    len(report.Failed),
	}
	if err != nil {
		s.logger.WithFields(fields).Error("kardex.scheduler.run_failed: " + err.Error())
		return
	}
	s.logger.WithFields(fields).Info("kardex.scheduler.run_done")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
