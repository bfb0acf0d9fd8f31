package mptcpsim

// experiment.go assembles a complete run from an ExperimentConfig:
// topology, routes, connections, scanner, coordinator, trace.  This
// is the layer the command-line driver calls.

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ExperimentSummary reports what a run did
type ExperimentSummary struct {
	Subflows     int
	Completed    int
	EndSeconds   float64
	Rtx          int
	Drops        int64
	TraceRecords int
}

// experimentFlowDone counts flow completions for the summary
func experimentFlowDone(evtMgr *EventManager, context any, data any) any {
	completed := context.(*int)
	*completed += 1
	return nil
}

// RunExperiment validates the configuration, builds the model, runs
// it to the configured end time, and writes the trace if one was
// requested.  Draining the event queue before the end time means all
// flows finished; it is a normal termination, not a failure.
func RunExperiment(cfg *ExperimentConfig) (*ExperimentSummary, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	mode, _ := cfg.CouplingValue()
	policy, _ := cfg.DropPolicyValue()

	evtMgr := CreateEventManager()
	tm := CreateTraceManager(cfg.Name, cfg.TracePath != "")
	tm.AddMeta("coupling", mode.String())
	tm.AddMeta("paths", strconv.Itoa(len(cfg.Paths)))
	tm.AddMeta("topology", cfg.Topology)

	scanner, err := CreateRtxTimerScanner(SecondsToTime(cfg.ScanPeriod))
	if err != nil {
		return nil, err
	}

	// routes: disjoint parallel paths, or repeated fat-tree routes
	// between the configured host pair (subflows then share links)
	var pairs []RoutePair
	var drops func() int64
	switch cfg.Topology {
	case "fattree":
		topo, terr := CreateFatTree(cfg.Fanout, cfg.Paths[0], policy)
		if terr != nil {
			return nil, terr
		}
		for range cfg.Paths {
			pair, rerr := topo.RouteBetween(cfg.Sender, cfg.Receiver)
			if rerr != nil {
				return nil, rerr
			}
			pairs = append(pairs, pair)
		}
		drops = topo.Drops
	default:
		pn, perr := BuildParallelRoutes(cfg.Paths, policy)
		if perr != nil {
			return nil, perr
		}
		pairs = pn.Pairs
		drops = pn.Drops
	}

	var coord *MultipathCoordinator
	if len(pairs) > 1 {
		coord = CreateMultipathCoordinator(mode)
	}

	// the transfer is divided evenly across subflows
	share := cfg.Flowsize / int64(len(pairs))
	remainder := cfg.Flowsize % int64(len(pairs))

	completed := 0
	done := RtnDesc{Cxt: &completed, EvtHdlr: experimentFlowDone}

	conns := make([]*TcpConnection, 0, len(pairs))
	for idx, pair := range pairs {
		name := fmt.Sprintf("%s-sf%d", cfg.Name, idx)
		conn, cerr := CreateTcpConnection(name, pair.Out, pair.Back,
			cfg.MSS, cfg.RecvWindow,
			SecondsToTime(cfg.InitialRTO), SecondsToTime(cfg.MaxRTO))
		if cerr != nil {
			return nil, cerr
		}
		conn.AttachTrace(tm)
		if rerr := scanner.Register(conn); rerr != nil {
			return nil, rerr
		}
		if coord != nil {
			if aerr := coord.AddSubflow(conn); aerr != nil {
				return nil, aerr
			}
		}
		size := share
		if idx == 0 {
			size += remainder
		}
		if size < 1 {
			size = 1
		}
		if serr := conn.SetFlowsize(size); serr != nil {
			return nil, serr
		}
		if cnerr := conn.Connect(evtMgr, done, TimeZero); cnerr != nil {
			return nil, cnerr
		}
		conns = append(conns, conn)
	}

	scanner.Start(evtMgr)
	logrus.Infof("experiment %s: %d subflow(s), coupling %s, running to %f",
		cfg.Name, len(conns), mode, cfg.EndTime)

	evtMgr.RunUntil(SecondsToTime(cfg.EndTime))
	scanner.Stop(evtMgr)

	if cfg.TracePath != "" {
		if werr := tm.WriteToFile(cfg.TracePath); werr != nil {
			return nil, fmt.Errorf("writing trace %s: %w", cfg.TracePath, werr)
		}
	}

	summary := new(ExperimentSummary)
	summary.Subflows = len(conns)
	summary.Completed = completed
	summary.EndSeconds = evtMgr.CurrentSeconds()
	for _, conn := range conns {
		summary.Rtx += conn.RtxCount()
	}
	summary.Drops = drops()
	summary.TraceRecords = tm.Records()

	logrus.Infof("experiment %s: %d/%d flows complete at %f, %d rtx, %d drops",
		cfg.Name, summary.Completed, summary.Subflows, summary.EndSeconds,
		summary.Rtx, summary.Drops)
	return summary, nil
}
