// Command easyprof inspects, summarizes and cuts easy_profiler captures.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"honnef.co/go/easyprof/capture"
)

type app struct {
	configPath string
	logLevel   string
	noStats    bool
	sequential bool

	cfg Config
	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}
	root := &cobra.Command{
		Use:   "easyprof",
		Short: "Inspect easy_profiler captures",
		Long: `easyprof reads captures written by easy_profiler and prints what they contain.

Examples:
  easyprof info capture.prof                      # Header and per-thread overview
  easyprof top -n 20 capture.prof                 # Blocks with the most total time
  easyprof tree --thread main capture.prof        # Call trees of one thread
  easyprof cut --from 1s --to 2s in.prof out.zst  # Save a window of a capture`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	f.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&a.noStats, "no-stats", false, "don't gather block statistics while reading")
	f.BoolVar(&a.sequential, "sequential", false, "post-process threads one at a time")

	root.AddCommand(
		newInfoCmd(a),
		newTopCmd(a),
		newTreeCmd(a),
		newCutCmd(a),
		newDescriptorsCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup merges the configuration file with the command line and configures logging. Flags that were set explicitly
// take precedence over the configuration file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := DefaultConfig()
	if a.configPath != "" {
		var err error
		cfg, err = LoadConfig(a.configPath)
		if err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("no-stats") {
		stats := !a.noStats
		cfg.Statistics = &stats
	}
	if flags.Changed("sequential") {
		cfg.Sequential = a.sequential
	}
	a.cfg = cfg

	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func (a *app) readOptions() capture.ReadOptions {
	return capture.ReadOptions{
		GatherStatistics:      a.cfg.gatherStatistics(),
		Sequential:            a.cfg.Sequential,
		IntegerTimeConversion: a.cfg.ExactTime,
		Logger:                &a.log,
	}
}

func (a *app) load(path string) (*capture.Capture, error) {
	a.log.Debug().Str("path", path).Msg("reading capture")
	c, err := capture.ReadFile(path, a.readOptions())
	if err != nil {
		return nil, err
	}
	a.log.Info().
		Str("path", path).
		Int("blocks", len(c.Blocks)).
		Int("threads", len(c.Threads)).
		Stringer("version", c.Version).
		Msg("read capture")
	return c, nil
}

// threadFilter returns a filter that accepts threads by ID or by name. An empty name accepts all threads.
func threadFilter(name string) func(*capture.ThreadRoot) bool {
	if name == "" {
		return nil
	}
	id, err := strconv.ParseUint(name, 10, 64)
	isID := err == nil
	return func(root *capture.ThreadRoot) bool {
		if isID && root.ID == capture.ThreadID(id) {
			return true
		}
		return root.Name == name
	}
}

func filterRoots(c *capture.Capture, filter func(*capture.ThreadRoot) bool) ([]*capture.ThreadRoot, error) {
	roots := c.Roots()
	if filter == nil {
		return roots, nil
	}
	out := roots[:0]
	for _, root := range roots {
		if filter(root) {
			out = append(out, root)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no matching thread")
	}
	return out, nil
}
