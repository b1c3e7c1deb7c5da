package main

import (
	"io"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

func newDescriptorsCmd(a *app) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "descriptors FILE",
		Short: "List block descriptors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var descs []*capture.Descriptor
			if stream {
				var err error
				descs, err = capture.ReadDescriptorsFile(args[0], a.readOptions())
				if err != nil {
					return err
				}
			} else {
				c, err := a.load(args[0])
				if err != nil {
					return err
				}
				descs = c.Descriptors[:min(c.DescriptorsCount, len(c.Descriptors))]
			}
			return printDescriptors(cmd.OutOrStdout(), descs)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "FILE is a descriptor stream rather than a capture")
	return cmd
}

func printDescriptors(w io.Writer, descs []*capture.Descriptor) error {
	tw := newTable(w)
	printer.Fprintln(tw, "id\ttype\tname\tlocation\tcolor\tstatus")
	for i, desc := range descs {
		if desc == nil {
			printer.Fprintf(tw, "%d\t-\t\t\t\t\n", i)
			continue
		}
		printer.Fprintf(tw, "%d\t%s\t%s\t%s:%d\t#%08x\t%d\n",
			uint32(desc.ID), desc.Type, desc.Name, desc.File, desc.Line, desc.Color, desc.Status)
	}
	return tw.Flush()
}
