package main

import (
	"io"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Print the header and an overview of each thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(args[0])
			if err != nil {
				return err
			}
			return printInfo(cmd.OutOrStdout(), c)
		},
	}
}

func printInfo(w io.Writer, c *capture.Capture) error {
	tw := newTable(w)
	printer.Fprintf(tw, "version:\t%s\n", c.Version)
	printer.Fprintf(tw, "pid:\t%d\n", c.PID)
	printer.Fprintf(tw, "cpu frequency:\t%d\n", c.CPUFrequency)
	printer.Fprintf(tw, "begin:\t%d\n", uint64(c.BeginTime))
	printer.Fprintf(tw, "end:\t%d\n", uint64(c.EndTime))
	printer.Fprintf(tw, "duration:\t%s\n", roundDuration(capture.Duration(c.BeginTime, c.EndTime)))
	printer.Fprintf(tw, "descriptors:\t%d\n", c.DescriptorsCount)
	printer.Fprintf(tw, "blocks:\t%d\n", len(c.Blocks))
	printer.Fprintf(tw, "threads:\t%d\n", len(c.Threads))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(c.Threads) == 0 {
		return nil
	}
	printer.Fprintln(w)
	tw = newTable(w)
	printer.Fprintln(tw, "thread\tname\tframes\tblocks\tevents\tcswitches\tdepth\tprofiled\twait")
	for _, root := range c.Roots() {
		printer.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			uint64(root.ID), root.Name, root.FramesNumber, root.BlocksNumber, len(root.Events),
			len(root.ContextSwitches), root.Depth, roundDuration(root.ProfiledTime), roundDuration(root.WaitTime))
	}
	return tw.Flush()
}
