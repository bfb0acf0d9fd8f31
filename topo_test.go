package mptcpsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateFatTree_ParameterValidation(t *testing.T) {
	good := PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}

	_, err := CreateFatTree(3, good, DropTail)
	if err == nil {
		t.Errorf("odd fanout was accepted")
	}
	_, err = CreateFatTree(0, good, DropTail)
	if err == nil {
		t.Errorf("zero fanout was accepted")
	}
	_, err = CreateFatTree(4, PathConfig{Rate: 0.0, RTT: 0.02, Capacity: 1024}, DropTail)
	if err == nil {
		t.Errorf("zero rate was accepted")
	}
}

func TestFatTree_Dimensions(t *testing.T) {
	topo, err := CreateFatTree(4, PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}, DropTail)
	require.NoError(t, err)

	// fanout k: k leaves, k/2 spines, k*k/2 hosts
	require.Equal(t, 8, topo.Hosts())
	require.Equal(t, 4, topo.nLeaves)
	require.Equal(t, 2, topo.nSpines)
}

func TestFatTree_RouteHopCounts(t *testing.T) {
	topo, err := CreateFatTree(4, PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}, DropTail)
	require.NoError(t, err)

	// hosts 0 and 1 share leaf 0: host-leaf-host, two edges plus the
	// propagation pipe
	sameLeaf, err := topo.RouteBetween(0, 1)
	require.NoError(t, err)
	require.Equal(t, 3, sameLeaf.Out.Hops())
	require.Equal(t, 3, sameLeaf.Back.Hops())

	// hosts 0 and 2 sit under different leaves: the path crosses a
	// spine, four edges plus the pipe
	crossLeaf, err := topo.RouteBetween(0, 2)
	require.NoError(t, err)
	require.Equal(t, 5, crossLeaf.Out.Hops())
	require.Equal(t, 5, crossLeaf.Back.Hops())
}

func TestFatTree_HostIndexRangeEnforced(t *testing.T) {
	topo, err := CreateFatTree(4, PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}, DropTail)
	require.NoError(t, err)

	_, err = topo.RouteBetween(-1, 1)
	require.Error(t, err)
	_, err = topo.RouteBetween(0, 8)
	require.Error(t, err)
	_, err = topo.RouteBetween(3, 3)
	require.Error(t, err)
}

func TestFatTree_RoutesShareEdgeQueues(t *testing.T) {
	topo, err := CreateFatTree(4, PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}, DropTail)
	require.NoError(t, err)

	q1, err := topo.edgeQueue(0, topo.leafID(0))
	require.NoError(t, err)
	q2, err := topo.edgeQueue(0, topo.leafID(0))
	require.NoError(t, err)
	require.Same(t, q1, q2)

	// building the same route twice creates no new queues
	_, err = topo.RouteBetween(0, 1)
	require.NoError(t, err)
	nQueues := len(topo.qByEdge)
	_, err = topo.RouteBetween(0, 1)
	require.NoError(t, err)
	require.Equal(t, nQueues, len(topo.qByEdge))
}

func TestFatTree_EndToEndDeliveryTiming(t *testing.T) {
	evtMgr := CreateEventManager()
	topo, err := CreateFatTree(4, PathConfig{Rate: 100.0, RTT: 0.02, Capacity: 1 << 20}, DropTail)
	require.NoError(t, err)

	pair, err := topo.RouteBetween(0, 1)
	require.NoError(t, err)

	seg := &Segment{Seq: 0, Len: 1210} // 1250 bytes framed
	col := new(arrivalCollector)
	pair.Out.Send(evtMgr, seg, col, collectArrival, nil, nil)
	evtMgr.Run()

	// two serialization stages, then the lumped one-way propagation
	q, err := topo.edgeQueue(0, topo.leafID(0))
	require.NoError(t, err)
	expected := 2*q.serviceTime(seg.Size()) + SecondsToTime(0.01)
	require.Len(t, col.times, 1)
	require.Equal(t, expected, col.times[0])
	require.Equal(t, int64(0), topo.Drops())
}

func TestBuildParallelRoutes(t *testing.T) {
	_, err := BuildParallelRoutes(nil, DropTail)
	require.Error(t, err)

	paths := []PathConfig{
		{Rate: 10.0, RTT: 0.05, Capacity: 30000},
		{Rate: 50.0, RTT: 0.01, Capacity: 30000},
	}
	pn, err := BuildParallelRoutes(paths, DropTail)
	require.NoError(t, err)
	require.Len(t, pn.Pairs, 2)
	require.Len(t, pn.Queues, 4)
	require.Equal(t, int64(0), pn.Drops())

	// each direction is one bottleneck queue and one propagation pipe
	for _, pair := range pn.Pairs {
		require.Equal(t, 2, pair.Out.Hops())
		require.Equal(t, 2, pair.Back.Hops())
	}

	// the pipe carries half the configured round trip
	evtMgr := CreateEventManager()
	col := new(arrivalCollector)
	seg := &Segment{Len: 85} // 125 bytes framed, 0.1 ms at 10 Mbps
	pn.Pairs[0].Out.Send(evtMgr, seg, col, collectArrival, nil, nil)
	evtMgr.Run()
	require.Len(t, col.times, 1)
	expected := pn.Queues[0].serviceTime(seg.Size()) + SecondsToTime(0.025)
	require.Equal(t, expected, col.times[0])
}
