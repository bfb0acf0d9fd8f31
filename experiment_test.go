package mptcpsim

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunExperiment_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultExperimentConfig()
	cfg.Coupling = "SOMEWHAT"
	_, err := RunExperiment(cfg)
	require.Error(t, err)
}

func TestRunExperiment_TwoPathCoupledWithTrace(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "twopath.trace")

	cfg := DefaultExperimentConfig()
	cfg.Name = "twopath"
	cfg.Coupling = "COUPLED_INC"
	cfg.Paths = []PathConfig{
		{Rate: 50.0, RTT: 0.01, Capacity: 1 << 20},
		{Rate: 50.0, RTT: 0.01, Capacity: 1 << 20},
	}
	cfg.Flowsize = 200000
	cfg.EndTime = 5.0
	cfg.TracePath = tracePath

	summary, err := RunExperiment(cfg)
	require.NoError(t, err)

	require.Equal(t, 2, summary.Subflows)
	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 0, summary.Rtx)
	require.Equal(t, int64(0), summary.Drops)
	require.Greater(t, summary.TraceRecords, 0)

	tl, err := ReadTraceFile(tracePath)
	require.NoError(t, err)
	require.Equal(t, "twopath", tl.Meta["experiment"])
	require.Equal(t, "COUPLED_INC", tl.Meta["coupling"])
	require.Equal(t, "2", tl.Meta["paths"])
	require.Equal(t, "parallel", tl.Meta["topology"])
	require.Contains(t, tl.IDByName, "twopath-sf0")
	require.Contains(t, tl.IDByName, "twopath-sf1")
	require.Len(t, tl.Records, summary.TraceRecords)
}

func TestRunExperiment_SingleFlowRunsUncoordinated(t *testing.T) {
	cfg := DefaultExperimentConfig()
	cfg.Name = "single"
	cfg.Paths = []PathConfig{{Rate: 100.0, RTT: 0.02, Capacity: 1 << 20}}
	cfg.Flowsize = 50000
	cfg.EndTime = 5.0

	summary, err := RunExperiment(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Subflows)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, 0, summary.TraceRecords) // no trace requested
}

func TestRunExperiment_FatTreeHostPair(t *testing.T) {
	cfg := DefaultExperimentConfig()
	cfg.Name = "tree"
	cfg.Topology = "fattree"
	cfg.Fanout = 4
	cfg.Sender = 0
	cfg.Receiver = 5
	cfg.Paths = []PathConfig{{Rate: 100.0, RTT: 0.02, Capacity: 1 << 20}}
	cfg.Flowsize = 50000
	cfg.EndTime = 5.0

	summary, err := RunExperiment(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Subflows)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, int64(0), summary.Drops)
}

func TestRunExperiment_FatTreeReceiverOutOfRange(t *testing.T) {
	cfg := DefaultExperimentConfig()
	cfg.Topology = "fattree"
	cfg.Fanout = 4
	cfg.Sender = 0
	cfg.Receiver = 99 // fanout 4 has hosts [0,8)
	cfg.Paths = []PathConfig{{Rate: 100.0, RTT: 0.02, Capacity: 1 << 20}}

	_, err := RunExperiment(cfg)
	require.Error(t, err)
}
