package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

type cutOptions struct {
	from    time.Duration
	to      time.Duration
	version string
}

func newCutCmd(a *app) *cobra.Command {
	var opts cutOptions
	cmd := &cobra.Command{
		Use:   "cut FILE OUT",
		Short: "Save the blocks that overlap a window of a capture",
		Long: `cut writes the blocks and context switches that overlap the window [--from, --to] to a new capture.
Both offsets are relative to the beginning of the input capture. The output is compressed with snappy if OUT ends in
.sz and with zstd if it ends in .zst.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wopts := capture.WriteOptions{Logger: &a.log}
			if opts.version != "" {
				v, err := capture.ParseVersion(opts.version)
				if err != nil {
					return err
				}
				wopts.Version = v
			}
			if opts.from < 0 || opts.to < 0 {
				return fmt.Errorf("window offsets must not be negative")
			}

			c, err := a.load(args[0])
			if err != nil {
				return err
			}
			begin, end := window(c, opts.from, opts.to)
			if end < begin {
				return fmt.Errorf("window ends before it begins")
			}
			n, err := capture.WriteFile(args[1], c, begin, end, wopts)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "wrote %d blocks to %s\n", n, args[1])
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&opts.from, "from", 0, "start of the window, relative to the beginning of the capture")
	f.DurationVar(&opts.to, "to", 0, "end of the window, relative to the beginning of the capture; 0 for the end of the capture")
	f.StringVar(&opts.version, "format-version", "", "write an older version of the format, e.g. 1.3.0")
	return cmd
}

// window converts offsets relative to the capture's beginning to timestamps. A zero to selects the end of the capture.
func window(c *capture.Capture, from, to time.Duration) (capture.Timestamp, capture.Timestamp) {
	begin := c.BeginTime + capture.Timestamp(from)
	end := c.EndTime
	if to != 0 {
		end = c.BeginTime + capture.Timestamp(to)
	}
	return begin, end
}
