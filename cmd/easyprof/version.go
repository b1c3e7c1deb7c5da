package main

import (
	"fmt"
	"io"
	"runtime"
	rdebug "runtime/debug"

	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

const Version = "devel"

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of easyprof",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			printVersion(w, Version)
			if verbose {
				printVerboseVersion(w)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print build information")
	return cmd
}

// version returns a version descriptor and reports whether the
// version is a known release.
func version(human string) (_ string, known bool) {
	if human != "devel" {
		return human, true
	}
	v, ok := buildInfoVersion()
	if ok {
		return v, false
	}
	return "devel", false
}

func printVersion(w io.Writer, human string) {
	human, release := version(human)

	if release {
		fmt.Fprintf(w, "easyprof %s\n", human)
	} else if human == "devel" {
		fmt.Fprintln(w, "easyprof (no version)")
	} else {
		fmt.Fprintf(w, "easyprof (devel, %s)\n", human)
	}
	fmt.Fprintf(w, "Writes capture format %s\n", capture.CurrentVersion)
}

func printVerboseVersion(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Compiled with Go version:", runtime.Version())
	if info, ok := rdebug.ReadBuildInfo(); ok {
		fmt.Fprintln(w, "Main module:")
		printModule(w, &info.Main)
		fmt.Fprintln(w, "Dependencies:")
		for _, dep := range info.Deps {
			printModule(w, dep)
		}
	} else {
		fmt.Fprintln(w, "Built without Go modules")
	}
}

func buildInfoVersion() (string, bool) {
	info, ok := rdebug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	if info.Main.Version == "(devel)" || info.Main.Version == "" {
		return "", false
	}
	return info.Main.Version, true
}

func printModule(w io.Writer, m *rdebug.Module) {
	fmt.Fprintf(w, "\t%s", m.Path)
	if m.Version != "(devel)" {
		fmt.Fprintf(w, "@%s", m.Version)
	}
	if m.Sum != "" {
		fmt.Fprintf(w, " (sum: %s)", m.Sum)
	}
	if m.Replace != nil {
		fmt.Fprintf(w, " (replace: %s)", m.Replace.Path)
	}
	fmt.Fprintln(w)
}
