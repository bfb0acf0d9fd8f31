package mptcpsim

// topo.go builds the network topologies the experiment drivers run over
// and computes routes through them.  The general approach follows the
// usual one: convert the device/edge representation into the data
// structures of a graph package with built-in path discovery, weight
// every edge 1, and let Dijkstra minimize hop count, which is close
// enough to what local routing does.  Shortest-path trees are cached
// by root so repeated route queries stay cheap.

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// RoutePair is the forward and return route of one connection
type RoutePair struct {
	Out  *Route
	Back *Route
}

// Topology is a two-tier fat tree: fanout k leaf switches each
// serving k/2 hosts, k/2 spine switches each connected to every
// leaf.  Queues are created per directed edge and shared by every
// route crossing that edge, so competing flows contend for the same
// buffers.  Propagation delay is lumped into one pipe per route.
type Topology struct {
	fanout  int
	nHosts  int
	nLeaves int
	nSpines int

	rate     float64
	oneway   VirtualTime
	capacity int64
	policy   DropPolicy

	edges     map[int][]int
	gNodes    map[int]simple.Node
	connGraph *simple.WeightedUndirectedGraph
	cachedSP  map[int]path.Shortest
	qByEdge   map[string]*Queue
}

// CreateFatTree is a constructor.  The path configuration supplies
// the per-link rate and buffer and the host-to-host round trip.
func CreateFatTree(fanout int, pth PathConfig, policy DropPolicy) (*Topology, error) {
	if fanout < 2 || fanout%2 != 0 {
		return nil, fmt.Errorf("fat-tree fanout %d must be even and at least 2", fanout)
	}
	if !(pth.Rate > 0.0) || !(pth.RTT > 0.0) || pth.Capacity <= 0 {
		return nil, fmt.Errorf("fat-tree path parameters must be positive")
	}

	topo := new(Topology)
	topo.fanout = fanout
	topo.nLeaves = fanout
	topo.nSpines = fanout / 2
	topo.nHosts = fanout * (fanout / 2)
	topo.rate = pth.Rate
	topo.oneway = SecondsToTime(pth.RTT / 2.0)
	topo.capacity = pth.Capacity
	topo.policy = policy
	topo.edges = make(map[int][]int)
	topo.gNodes = make(map[int]simple.Node)
	topo.cachedSP = make(map[int]path.Shortest)
	topo.qByEdge = make(map[string]*Queue)

	// hosts occupy ids [0, nHosts), leaves and spines follow
	for host := 0; host < topo.nHosts; host++ {
		leaf := topo.leafID(host / topo.nSpines)
		topo.addEdge(host, leaf)
	}
	for leaf := 0; leaf < topo.nLeaves; leaf++ {
		for spine := 0; spine < topo.nSpines; spine++ {
			topo.addEdge(topo.leafID(leaf), topo.spineID(spine))
		}
	}
	topo.buildConnGraph()
	return topo, nil
}

// Hosts returns the number of hosts in the tree
func (topo *Topology) Hosts() int { return topo.nHosts }

func (topo *Topology) leafID(leaf int) int   { return topo.nHosts + leaf }
func (topo *Topology) spineID(spine int) int { return topo.nHosts + topo.nLeaves + spine }

// addEdge records an undirected adjacency
func (topo *Topology) addEdge(a, b int) {
	topo.edges[a] = append(topo.edges[a], b)
	topo.edges[b] = append(topo.edges[b], a)
}

// buildConnGraph transforms the adjacency representation into the
// graph package's form, weighting every edge 1
func (topo *Topology) buildConnGraph() {
	topo.connGraph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for nodeID := range topo.edges {
		topo.gNodes[nodeID] = simple.Node(nodeID)
	}
	for nodeID, nbrList := range topo.edges {
		for _, nbrID := range nbrList {
			weightedEdge := simple.WeightedEdge{F: topo.gNodes[nodeID], T: topo.gNodes[nbrID], W: 1.0}
			topo.connGraph.SetWeightedEdge(weightedEdge)
		}
	}
}

// spTree returns the shortest-path tree rooted at 'from', computing
// and caching it on first use
func (topo *Topology) spTree(from int) path.Shortest {
	tree, present := topo.cachedSP[from]
	if present {
		return tree
	}
	tree = path.DijkstraFrom(topo.gNodes[from], topo.connGraph)
	topo.cachedSP[from] = tree
	return tree
}

// nodeSeq returns the device ids on a shortest path between two hosts
func (topo *Topology) nodeSeq(src, dst int) []int {
	tree := topo.spTree(src)
	nodes, _ := tree.To(int64(dst))
	seq := make([]int, 0, len(nodes))
	for _, nd := range nodes {
		seq = append(seq, int(nd.ID()))
	}
	return seq
}

// edgeQueue returns the queue on the directed edge a->b, creating it
// on first use so all routes crossing the edge share it
func (topo *Topology) edgeQueue(a, b int) (*Queue, error) {
	key := fmt.Sprintf("%d-%d", a, b)
	q, present := topo.qByEdge[key]
	if present {
		return q, nil
	}
	q, err := CreateQueue("edge-"+key, topo.rate, topo.capacity, topo.policy)
	if err != nil {
		return nil, err
	}
	topo.qByEdge[key] = q
	return q, nil
}

// buildRoute assembles the route along a node sequence: the shared
// queue of every directed edge, then one pipe carrying the whole
// one-way propagation delay
func (topo *Topology) buildRoute(seq []int) (*Route, error) {
	elems := make([]LinkElement, 0, len(seq))
	for idx := 0; idx < len(seq)-1; idx++ {
		q, err := topo.edgeQueue(seq[idx], seq[idx+1])
		if err != nil {
			return nil, err
		}
		elems = append(elems, q)
	}
	pipe, err := CreatePipe(fmt.Sprintf("prop-%d-%d", seq[0], seq[len(seq)-1]), topo.oneway)
	if err != nil {
		return nil, err
	}
	elems = append(elems, pipe)
	return CreateRoute(elems...)
}

// RouteBetween computes the forward and return routes between two
// hosts.  Indices outside the host range are configuration errors,
// reported rather than wrapped around.
func (topo *Topology) RouteBetween(src, dst int) (RoutePair, error) {
	if src < 0 || src >= topo.nHosts {
		return RoutePair{}, fmt.Errorf("sender index %d outside host range [0,%d)", src, topo.nHosts)
	}
	if dst < 0 || dst >= topo.nHosts {
		return RoutePair{}, fmt.Errorf("receiver index %d outside host range [0,%d)", dst, topo.nHosts)
	}
	if src == dst {
		return RoutePair{}, fmt.Errorf("sender and receiver are both host %d", src)
	}

	fwd := topo.nodeSeq(src, dst)
	if len(fwd) == 0 {
		return RoutePair{}, fmt.Errorf("no path from host %d to host %d", src, dst)
	}
	rev := make([]int, len(fwd))
	for idx, nodeID := range fwd {
		rev[len(fwd)-idx-1] = nodeID
	}

	out, err := topo.buildRoute(fwd)
	if err != nil {
		return RoutePair{}, err
	}
	back, err := topo.buildRoute(rev)
	if err != nil {
		return RoutePair{}, err
	}
	return RoutePair{Out: out, Back: back}, nil
}

// Drops sums the discards of every queue in the tree
func (topo *Topology) Drops() int64 {
	var total int64
	for _, q := range topo.qByEdge {
		total += q.Drops()
	}
	return total
}

// ParallelNet is the other driver topology: disjoint point-to-point
// paths between one sender and one receiver, one bottleneck queue and
// one propagation pipe per direction per path
type ParallelNet struct {
	Pairs  []RoutePair
	Queues []*Queue
}

// BuildParallelRoutes constructs one route pair per configured path
func BuildParallelRoutes(paths []PathConfig, policy DropPolicy) (*ParallelNet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths configured")
	}
	pn := new(ParallelNet)
	for idx, pth := range paths {
		oneway := SecondsToTime(pth.RTT / 2.0)

		qOut, err := CreateQueue(fmt.Sprintf("path%d-out", idx), pth.Rate, pth.Capacity, policy)
		if err != nil {
			return nil, err
		}
		pipeOut, err := CreatePipe(fmt.Sprintf("path%d-out-prop", idx), oneway)
		if err != nil {
			return nil, err
		}
		out, err := CreateRoute(qOut, pipeOut)
		if err != nil {
			return nil, err
		}

		qBack, err := CreateQueue(fmt.Sprintf("path%d-back", idx), pth.Rate, pth.Capacity, policy)
		if err != nil {
			return nil, err
		}
		pipeBack, err := CreatePipe(fmt.Sprintf("path%d-back-prop", idx), oneway)
		if err != nil {
			return nil, err
		}
		back, err := CreateRoute(qBack, pipeBack)
		if err != nil {
			return nil, err
		}

		pn.Pairs = append(pn.Pairs, RoutePair{Out: out, Back: back})
		pn.Queues = append(pn.Queues, qOut, qBack)
	}
	return pn, nil
}

// Drops sums the discards across the parallel paths
func (pn *ParallelNet) Drops() int64 {
	var total int64
	for _, q := range pn.Queues {
		total += q.Drops()
	}
	return total
}
