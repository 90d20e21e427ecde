package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtaci/pth"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the queue statistics of a freshly created runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := pth.New()
			if err != nil {
				return err
			}
			defer rt.Close()
			stats := rt.Ctrl(pth.CtrlQueueStats).(pth.QueueStats)
			fmt.Printf("%+v\n", stats)
			return nil
		},
	}
}
