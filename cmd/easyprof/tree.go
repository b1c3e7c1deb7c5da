package main

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

type treeOptions struct {
	thread   string
	maxDepth int
	frames   int
}

func newTreeCmd(a *app) *cobra.Command {
	var opts treeOptions
	cmd := &cobra.Command{
		Use:   "tree FILE",
		Short: "Print the call trees of each thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(args[0])
			if err != nil {
				return err
			}
			roots, err := filterRoots(c, threadFilter(opts.thread))
			if err != nil {
				return err
			}
			return printTrees(cmd.OutOrStdout(), c, roots, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.thread, "thread", "", "only print the thread with this ID or name")
	f.IntVar(&opts.maxDepth, "max-depth", 0, "don't descend deeper than this many levels, 0 for no limit")
	f.IntVar(&opts.frames, "frames", 0, "print at most this many frames per thread, 0 for all")
	return cmd
}

func printTrees(w io.Writer, c *capture.Capture, roots []*capture.ThreadRoot, opts treeOptions) error {
	var sb strings.Builder
	for i, root := range roots {
		if i > 0 {
			sb.WriteString("\n")
		}
		printer.Fprintf(&sb, "thread %d %q (%d frames, %s profiled)\n",
			uint64(root.ID), root.Name, root.FramesNumber, roundDuration(root.ProfiledTime))
		frames := root.Children
		if opts.frames > 0 && len(frames) > opts.frames {
			frames = frames[:opts.frames]
		}
		for _, frame := range frames {
			c.Walk(frame, func(idx capture.BlockIndex, depth int) bool {
				b := &c.Blocks[idx]
				sb.WriteString(strings.Repeat("  ", depth+1))
				sb.WriteString(c.BlockName(b))
				switch b.Kind {
				case capture.KindValue:
					if b.Value == nil {
						break
					}
					sb.WriteString(" = ")
					sb.WriteString(b.Value.String())
				default:
					printer.Fprintf(&sb, " %s", roundDuration(b.Duration()))
				}
				sb.WriteString("\n")
				return opts.maxDepth <= 0 || depth+1 < opts.maxDepth
			})
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
		sb.Reset()
	}
	return nil
}
