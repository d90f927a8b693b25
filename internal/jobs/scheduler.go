package jobs

import (
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler runs registered jobs on cron schedules through gocron.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	runner    *runner
}

// NewScheduler creates a stopped scheduler that logs through logger.
func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLogger(&gocronLoggerAdapter{logger: logger.Sugar()}),
	)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		scheduler: scheduler,
		logger:    logger,
		runner:    newRunner(logger),
	}, nil
}

// RegisterCronJob schedules job on a five-field cron expression. A run that is still going
// when the next one is due causes that next run to be skipped.
func (s *Scheduler) RegisterCronJob(cron string, job Job) error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(s.runner.RunJobFunc(job)),
		gocron.WithName(job.name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

// Start begins running registered jobs. It does not block.
func (s *Scheduler) Start() {
	s.logger.Info("job scheduler starting", zap.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Shutdown stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Shutdown() error {
	s.logger.Info("job scheduler shutting down")
	return s.scheduler.Shutdown()
}

type gocronLoggerAdapter struct {
	logger *zap.SugaredLogger
}

func (a *gocronLoggerAdapter) Debug(msg string, args ...any) { a.logger.Debugw(msg, args...) }
func (a *gocronLoggerAdapter) Info(msg string, args ...any)  { a.logger.Infow(msg, args...) }
func (a *gocronLoggerAdapter) Warn(msg string, args ...any)  { a.logger.Warnw(msg, args...) }
func (a *gocronLoggerAdapter) Error(msg string, args ...any) { a.logger.Errorw(msg, args...) }
