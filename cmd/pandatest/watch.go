package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
)

var watchPeriod float64

var watchCmd = &cobra.Command{
	Use:   "watch <host> <pattern>[,<pattern>...]",
	Short: "Periodically poll matching fields and display their values",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx, cancel := runContext()
		defer cancel()

		client, err := control.Connect(control.Config{Host: args[0]}, log)
		if err != nil {
			return err
		}
		defer client.Close()

		var fields []fieldpath.Path
		for _, pattern := range strings.Split(args[1], ",") {
			matched, err := client.Snapshot().Matching(pattern)
			if err != nil {
				return fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if len(matched) == 0 {
				// No metadata match; treat the pattern as a literal path.
				fields = append(fields, fieldpath.New(pattern))
				continue
			}
			for _, name := range matched {
				fields = append(fields, fieldpath.New(name))
			}
		}

		period := time.Duration(watchPeriod * float64(time.Second))
		for {
			// Home the cursor and clear before each redraw.
			fmt.Print("\033[H\033[2J")
			for _, field := range fields {
				value, err := client.Get(field)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %v\n", field, value)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(period):
			}
		}
	},
}

func init() {
	watchCmd.Flags().Float64Var(&watchPeriod, "watch-period", 1.0, "polling period in seconds")
	rootCmd.AddCommand(watchCmd)
}
