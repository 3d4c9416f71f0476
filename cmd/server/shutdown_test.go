package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func TestStopAll(t *testing.T) {
	t.Parallel()

	var order []string
	stop := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s: context has no deadline", name)
			}
			order = append(order, name)
			return err
		}
	}

	stopAll(log.Nop(), time.Second, []stopFn{
		{"api", stop("api", errors.New("boom"))},
		{"otel", nil},
		{"ops", stop("ops", nil)},
	})

	if len(order) != 2 || order[0] != "api" || order[1] != "ops" {
		t.Errorf("order = %v, want [api ops]", order)
	}
}

func TestStopAll_SlicesBudget(t *testing.T) {
	t.Parallel()

	var got time.Duration
	stopAll(log.Nop(), 4*time.Second, []stopFn{
		{"a", func(ctx context.Context) error {
			dl, _ := ctx.Deadline()
			got = time.Until(dl)
			return nil
		}},
		{"b", func(context.Context) error { return nil }},
	})
	if got <= 0 || got > 2*time.Second {
		t.Errorf("per-component budget = %s, want <= 2s", got)
	}

	stopAll(log.Nop(), time.Second, nil)
}

func TestDrain_Elapses(t *testing.T) {
	t.Parallel()

	start := time.Now()
	drain(log.Nop(), 20*time.Millisecond)
	if el := time.Since(start); el < 20*time.Millisecond {
		t.Errorf("drain returned after %s", el)
	}
}
