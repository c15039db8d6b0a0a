package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultTickSpec evaluates announcements at the top of every minute.
const DefaultTickSpec = "0 * * * * *"

var specParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type AnnouncementTask interface {
	RunTick()
}

type Deps struct {
	AnnouncementJob AnnouncementTask
	TickSpec        string
}

// ValidateSpec reports whether spec is a valid six-field cron expression or
// descriptor such as "@every 30s".
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if deps.AnnouncementJob != nil {
		spec := deps.TickSpec
		if spec == "" {
			spec = DefaultTickSpec
		}
		addFunc(c, spec, "announcement.tick", logger, deps.AnnouncementJob.RunTick)
	}

	return c
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if logger == nil {
		return
	}

	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
