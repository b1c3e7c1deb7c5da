package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

func newTopCmd(a *app) *cobra.Command {
	var (
		n      int
		thread string
	)
	cmd := &cobra.Command{
		Use:   "top FILE",
		Short: "List the blocks with the most total time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("count") {
				n = a.cfg.Top
			}
			c, err := a.load(args[0])
			if err != nil {
				return err
			}
			filter := threadFilter(thread)
			if _, err := filterRoots(c, filter); err != nil {
				return err
			}
			rows := capture.Summarize(c, filter)
			if n > 0 && len(rows) > n {
				rows = rows[:n]
			}
			return printSummary(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 10, "number of rows to print, 0 for all")
	cmd.Flags().StringVar(&thread, "thread", "", "only consider the thread with this ID or name")
	return cmd
}

func printSummary(w io.Writer, rows []capture.Summary) error {
	tw := newTable(w)
	printer.Fprintln(tw, "name\tcalls\ttotal\tself\tmin\tmax\taverage\tmedian")
	for _, s := range rows {
		printer.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Calls, roundDuration(s.Total), roundDuration(s.Self), roundDuration(s.Min), roundDuration(s.Max),
			roundDuration(time.Duration(s.Average)), roundDuration(time.Duration(s.Median)))
	}
	return tw.Flush()
}
