package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/sarchlab/vmcore/blockdev"
	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/frame"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/sarchlab/vmcore/vm"
	"github.com/sarchlab/vmcore/vmm"
	"github.com/sarchlab/vmcore/workload"
	"github.com/spf13/cobra"
)

type runOptions struct {
	frames      int
	swapSlots   int
	swapFile    string
	victim      string
	workload    workload.Config
	traceDB     string
	logEvents   bool
	monitor     bool
	port        int
	openBrowser bool
}

var runOpts = runOptions{workload: workload.DefaultConfig()}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload and print what the paging core did.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runWorkload(ctx, runOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.IntVar(&runOpts.frames, "frames", 64,
		"Number of physical frames in the user pool.")
	flags.IntVar(&runOpts.swapSlots, "swap-slots", 1024,
		"Number of page-sized swap slots.")
	flags.StringVar(&runOpts.swapFile, "swap-file", "",
		"Keep the swap area in this file instead of in memory.")
	flags.StringVar(&runOpts.victim, "victim", "clock",
		"Eviction policy, clock or oldest.")
	flags.IntVar(&runOpts.workload.Processes, "processes",
		runOpts.workload.Processes, "Number of processes.")
	flags.IntVar(&runOpts.workload.PagesPerProcess, "pages",
		runOpts.workload.PagesPerProcess, "Number of pages of each process.")
	flags.IntVar(&runOpts.workload.ThreadsPerProcess, "threads",
		runOpts.workload.ThreadsPerProcess, "Number of threads of each process.")
	flags.IntVar(&runOpts.workload.Accesses, "accesses",
		runOpts.workload.Accesses, "Number of accesses of each thread.")
	flags.Float64Var(&runOpts.workload.WriteRatio, "write-ratio",
		runOpts.workload.WriteRatio, "Share of accesses that are writes.")
	flags.Int64Var(&runOpts.workload.Seed, "seed",
		runOpts.workload.Seed, "Seed of the random access pattern.")
	flags.StringVar(&runOpts.traceDB, "trace-db", "",
		"Record every paging event into this SQLite database.")
	flags.BoolVar(&runOpts.logEvents, "log-events", false,
		"Print every paging event.")
	flags.BoolVar(&runOpts.monitor, "monitor", false,
		"Serve the state of the paging core over HTTP.")
	flags.IntVar(&runOpts.port, "monitor-port", 0,
		"Port of the monitoring server.")
	flags.BoolVar(&runOpts.openBrowser, "open-browser", false,
		"Open the monitoring dashboard in a browser.")
}

func runWorkload(
	ctx context.Context,
	opts runOptions,
	stdout, stderr io.Writer,
) error {
	builder := vmm.MakeBuilder().
		WithNumFrames(opts.frames).
		WithNumSwapSlots(opts.swapSlots).
		WithLogger(log.New(io.Discard, "", 0))

	switch opts.victim {
	case "clock":
		builder = builder.WithVictimFinder(frame.NewClockVictimFinder())
	case "oldest":
		builder = builder.WithVictimFinder(frame.NewOldestVictimFinder())
	default:
		return fmt.Errorf("unknown eviction policy %q", opts.victim)
	}

	if opts.swapFile != "" {
		device, err := blockdev.OpenFileDevice(opts.swapFile,
			uint64(opts.swapSlots)*vm.SectorsPerPage)
		if err != nil {
			return err
		}
		defer device.Close()

		builder = builder.WithSwapDevice(device)
	}

	counter := tracing.NewCountTracer()
	builder = builder.WithHook(counter)

	if opts.logEvents {
		builder = builder.WithHook(
			hooking.NewLogHook(log.New(stderr, "", log.Lmicroseconds)))
	}

	if opts.traceDB != "" {
		recorder := datarecording.New(opts.traceDB)
		defer recorder.Close()

		builder = builder.WithHook(tracing.NewDBTracer(recorder))
	}

	manager := builder.Build()
	runner := workload.NewRunner(manager)

	if opts.monitor {
		monitor := monitoring.NewMonitor().
			WithPortNumber(opts.port).
			WithBrowser(opts.openBrowser)
		monitor.RegisterManager(manager)
		monitor.RegisterCounter(counter)
		monitor.StartServer()

		cfg := opts.workload
		total := uint64(cfg.Processes * cfg.ThreadsPerProcess * cfg.Accesses)
		bar := monitor.CreateProgressBar("workload", total)
		defer monitor.CompleteProgressBar(bar)

		runner.WithProgress(bar.SetFinished)
	}

	result, err := runner.Run(ctx, opts.workload)
	if err != nil {
		return err
	}

	return printReport(stdout, result, manager.Summary(), counter.Counts())
}

type report struct {
	Result  workload.Result   `json:"result"`
	Summary vmm.Summary       `json:"summary"`
	Events  map[string]uint64 `json:"events"`
}

func printReport(
	w io.Writer,
	result workload.Result,
	summary vmm.Summary,
	events map[string]uint64,
) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(report{
		Result:  result,
		Summary: summary,
		Events:  events,
	})
}
