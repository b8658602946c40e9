// Package tasks runs cancellable periodic background loops: the backup
// scheduler and the maintenance sweep both ride on Every.
package tasks

import (
	"context"
	"log"
	"time"
)

// Every invokes task at the given interval until ctx is cancelled. The first
// run happens one full interval after the call. A panic inside one iteration
// is logged and the loop keeps ticking; a background task must never take
// the process down.
func Every(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("tasks: %s loop started, interval %s", name, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("tasks: %s loop stopped", name)
			return
		case <-ticker.C:
			runOnce(ctx, name, task)
		}
	}
}

func runOnce(ctx context.Context, name string, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tasks: %s iteration panicked: %v", name, r)
		}
	}()
	task(ctx)
}
