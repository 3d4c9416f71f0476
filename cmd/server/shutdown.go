package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// drain waits out the drain period so load balancers notice the failing
// readiness probe. A second interrupt cuts it short.
func drain(L log.Logger, d time.Duration) {
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	L.Info(context.Background(), "sleeping for drain period", "drain", d)
	select {
	case <-time.After(d):
		L.Info(context.Background(), "drain period complete")
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// stopAll runs each stop function in order with an equal slice of budget.
// Failures are logged and do not stop the remaining components.
func stopAll(L log.Logger, budget time.Duration, stops []stopFn) {
	if len(stops) == 0 {
		return
	}
	per := budget / time.Duration(len(stops))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stops {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(ctx, per)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}
