package main

// mptcpsim runs one simulation experiment described by CLI flags or a
// yaml configuration file, writes the binary trace, and exits 0 when
// the run reaches its configured end time.  Invalid configuration or
// topology/node-index arguments exit non-zero.

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/iti/mptcpsim"
)

var (
	configPath string
	logLevel   string

	expName    string
	coupling   string
	topology   string
	nPaths     int
	rate       float64
	rtt        float64
	capacity   int64
	fanout     int
	sender     int
	receiver   int
	rcvwnd     int64
	mss        int64
	flowsize   int64
	dropPolicy string
	initialRTO float64
	maxRTO     float64
	scanPeriod float64
	endTime    float64
	tracePath  string
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "mptcpsim",
	Short: "Deterministic discrete-event simulator for TCP and MPTCP flows",
}

// runCmd executes one experiment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation experiment",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)

		cfg := sim.DefaultExperimentConfig()
		if configPath != "" {
			cfg, err = sim.ReadExperimentConfig(configPath)
			if err != nil {
				logrus.Fatalf("reading config: %v", err)
			}
		}
		applyFlagOverrides(cmd, cfg)

		summary, err := sim.RunExperiment(cfg)
		if err != nil {
			logrus.Fatalf("experiment failed: %v", err)
		}
		logrus.Infof("done: %d/%d flows complete at %fs, %d retransmissions, %d drops, %d trace records",
			summary.Completed, summary.Subflows, summary.EndSeconds,
			summary.Rtx, summary.Drops, summary.TraceRecords)
	},
}

// applyFlagOverrides lets explicitly given flags win over the config
// file, so a file-based experiment can be varied from the command line
func applyFlagOverrides(cmd *cobra.Command, cfg *sim.ExperimentConfig) {
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = expName
	}
	if flags.Changed("coupling") {
		cfg.Coupling = coupling
	}
	if flags.Changed("topology") {
		cfg.Topology = topology
	}
	if flags.Changed("paths") || flags.Changed("rate") || flags.Changed("rtt") || flags.Changed("capacity") {
		cfg.Paths = make([]sim.PathConfig, nPaths)
		for idx := range cfg.Paths {
			cfg.Paths[idx] = sim.PathConfig{Rate: rate, RTT: rtt, Capacity: capacity}
		}
	}
	if flags.Changed("fanout") {
		cfg.Fanout = fanout
	}
	if flags.Changed("sender") {
		cfg.Sender = sender
	}
	if flags.Changed("receiver") {
		cfg.Receiver = receiver
	}
	if flags.Changed("rcvwnd") {
		cfg.RecvWindow = rcvwnd
	}
	if flags.Changed("mss") {
		cfg.MSS = mss
	}
	if flags.Changed("flowsize") {
		cfg.Flowsize = flowsize
	}
	if flags.Changed("drop-policy") {
		cfg.DropPolicy = dropPolicy
	}
	if flags.Changed("initial-rto") {
		cfg.InitialRTO = initialRTO
	}
	if flags.Changed("max-rto") {
		cfg.MaxRTO = maxRTO
	}
	if flags.Changed("scan-period") {
		cfg.ScanPeriod = scanPeriod
	}
	if flags.Changed("end") {
		cfg.EndTime = endTime
	}
	if flags.Changed("trace") {
		cfg.TracePath = tracePath
	}
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "yaml experiment configuration file")
	runCmd.Flags().StringVar(&logLevel, "loglevel", "info", "log verbosity level")

	runCmd.Flags().StringVar(&expName, "name", "experiment", "experiment name")
	runCmd.Flags().StringVar(&coupling, "coupling", "UNCOUPLED", "coupling mode: UNCOUPLED | COUPLED_INC | FULLY_COUPLED")
	runCmd.Flags().StringVar(&topology, "topology", "parallel", "topology: parallel | fattree")
	runCmd.Flags().IntVar(&nPaths, "paths", 1, "number of paths (subflows)")
	runCmd.Flags().Float64Var(&rate, "rate", 100.0, "per-path rate in Mbps")
	runCmd.Flags().Float64Var(&rtt, "rtt", 0.02, "per-path round-trip propagation in seconds")
	runCmd.Flags().Int64Var(&capacity, "capacity", 64*1024, "per-path bottleneck buffer in bytes")
	runCmd.Flags().IntVar(&fanout, "fanout", 4, "fat-tree fan-out parameter")
	runCmd.Flags().IntVar(&sender, "sender", 0, "fat-tree sender host index")
	runCmd.Flags().IntVar(&receiver, "receiver", 1, "fat-tree receiver host index")
	runCmd.Flags().Int64Var(&rcvwnd, "rcvwnd", 64*1024, "receive window in bytes")
	runCmd.Flags().Int64Var(&mss, "mss", 1460, "segment size in bytes")
	runCmd.Flags().Int64Var(&flowsize, "flowsize", 1<<20, "total transfer size in bytes")
	runCmd.Flags().StringVar(&dropPolicy, "drop-policy", "drop-tail", "queue drop policy: drop-tail | red")
	runCmd.Flags().Float64Var(&initialRTO, "initial-rto", 3.0, "initial retransmission timeout in seconds")
	runCmd.Flags().Float64Var(&maxRTO, "max-rto", 60.0, "retransmission timeout cap in seconds")
	runCmd.Flags().Float64Var(&scanPeriod, "scan-period", 0.1, "rtx scanner period in seconds")
	runCmd.Flags().Float64Var(&endTime, "end", 30.0, "simulation end time in seconds")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "output trace log path")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
