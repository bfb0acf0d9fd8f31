package mptcpsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCongestionController_SlowStartGrowsOneSegmentPerAck(t *testing.T) {
	cc := CreateCongestionController(1000)
	require.True(t, cc.InSlowStart())

	cc.onAck()
	cc.onAck()
	require.Equal(t, int64(3000), cc.Cwnd())
}

func TestCongestionController_CongestionAvoidanceGrowth(t *testing.T) {
	cc := CreateCongestionController(1000)
	cc.setCwnd(8000)
	cc.ssthresh = 4000
	require.False(t, cc.InSlowStart())

	// one ACK earns mss^2/cwnd
	cc.onAck()
	require.Equal(t, int64(8125), cc.Cwnd())
}

func TestCongestionController_TimeoutCollapsesAndRestartsSlowStart(t *testing.T) {
	cc := CreateCongestionController(1000)
	cc.setCwnd(16000)

	cc.onTimeout()

	require.Equal(t, int64(8000), cc.Ssthresh())
	require.Equal(t, int64(1000), cc.Cwnd())
	require.True(t, cc.InSlowStart())
	require.False(t, cc.InFastRecovery())
}

func TestCongestionController_DupAckHalvesWithoutRestartingSlowStart(t *testing.T) {
	cc := CreateCongestionController(1000)
	cc.setCwnd(16000)

	cc.onDupAckLoss()

	require.Equal(t, int64(8000), cc.Ssthresh())
	require.Equal(t, int64(8000), cc.Cwnd())
	require.True(t, cc.InFastRecovery())
	// halving lands at ssthresh, so growth continues linearly, not
	// from one segment as a timeout would force
	require.False(t, cc.InSlowStart())
}

func TestCongestionController_WindowNeverBelowOneSegment(t *testing.T) {
	cc := CreateCongestionController(1000)
	cc.setCwnd(1) // requests below one segment are floored
	require.Equal(t, int64(1000), cc.Cwnd())

	cc.setCwnd(1500)
	cc.onDupAckLoss()
	cc.onDupAckLoss()
	cc.onDupAckLoss()
	require.GreaterOrEqual(t, cc.Cwnd(), int64(1000))

	cc.onTimeout()
	require.Equal(t, int64(1000), cc.Cwnd())
}
