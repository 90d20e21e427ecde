package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xtaci/pth"
)

func newRunCommand() *cobra.Command {
	var workers int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a demo fiber workload to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(workers, verbose)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "number of worker fibers to spawn")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log scheduler lifecycle events")

	return cmd
}

// runDemo spawns workers fibers that each increment a shared counter
// under a mutex, synchronize at a barrier, then exit — demonstrating
// Spawn, Join, mutex, and barrier together.
func runDemo(workers int, verbose bool) error {
	level := zerolog.Disabled
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	rt, err := pth.New(pth.WithLogger(logger), pth.WithFavourNew(true))
	if err != nil {
		return err
	}
	defer rt.Close()

	var counter int64
	mu := rt.NewMutex()
	barrier := rt.NewBarrier(workers)

	fibers := make([]*pth.Fiber, 0, workers)
	for i := 0; i < workers; i++ {
		idx := i
		f := rt.Spawn(fmt.Sprintf("worker-%d", idx), pth.PrioMax-1, true, func(self *pth.Fiber) interface{} {
			if err := mu.Acquire(false, nil); err != nil {
				return err
			}
			atomic.AddInt64(&counter, 1)
			if err := mu.Release(); err != nil {
				return err
			}
			if err := rt.Sleep(time.Millisecond); err != nil {
				return err
			}
			role, err := barrier.Reach()
			if err != nil {
				return err
			}
			return role
		}, nil)
		fibers = append(fibers, f)
	}

	for _, f := range fibers {
		if _, err := rt.Join(f); err != nil {
			return err
		}
	}

	stats := rt.Ctrl(pth.CtrlQueueStats).(pth.QueueStats)
	load := rt.Ctrl(pth.CtrlAvLoad).(float64)
	fmt.Printf("workers completed: %d\n", atomic.LoadInt64(&counter))
	fmt.Printf("queue stats: %+v\n", stats)
	fmt.Printf("load average: %.3f\n", load)
	return nil
}
