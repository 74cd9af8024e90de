// Command worker runs the projection-update worker pool: it claims
// background jobs, dispatches events to projection handlers, and
// applies the retry/dead-letter policy. SIGINT/SIGTERM trigger a
// graceful drain.
//
// Exit codes: 0 = clean shutdown, 1 = startup or runtime error.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkravets/fitpulse-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
