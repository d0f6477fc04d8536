// Package async provides safe background execution: panic-recovered
// goroutines and the cron-driven janitor running the periodic maintenance
// tasks.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/aegiskit/aegis/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and
// crashes.
func SafeGo(parentCtx context.Context, timeout time.Duration, log *observability.Logger, taskName string, fn func(context.Context) error) {
	if log == nil {
		log = observability.NopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			// Log and carry on; background failures never crash the process.
			log.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, log *observability.Logger, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, log, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
