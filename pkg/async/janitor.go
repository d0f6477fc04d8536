package async

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aegiskit/aegis/pkg/observability"
)

// Janitor schedules the periodic maintenance tasks (token pruning, audit
// flushing, pattern cleanup). Task panics and errors are logged, never
// propagated.
type Janitor struct {
	log  *observability.Logger
	cron *cron.Cron
}

// NewJanitor creates a stopped janitor; call Start after registering tasks.
func NewJanitor(log *observability.Logger) *Janitor {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Janitor{
		log:  log,
		cron: cron.New(),
	}
}

// Every registers fn to run at the given interval.
func (j *Janitor) Every(interval time.Duration, name string, fn func() error) error {
	_, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		defer func() {
			if r := recover(); r != nil {
				j.log.WithFields(map[string]interface{}{
					"task":  name,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in janitor task")
			}
		}()
		if err := fn(); err != nil {
			j.log.WithError(err).WithField("task", name).Error("janitor task failed")
		}
	})
	if err != nil {
		return fmt.Errorf("async: schedule %s: %w", name, err)
	}
	return nil
}

// Start begins running scheduled tasks.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for any running task to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
