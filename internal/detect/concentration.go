package detect

import (
	"fmt"
	"math"
	"sort"

	"fiscalproof/internal/receipt"
)

// Flow is one directed money movement between two entities.
type Flow struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
	Kind   string  `json:"kind"`
}

// FlowRecord is one raw transfer record from an ingest source.
// Missing fields get neutral defaults so partial exports still build
// a graph.
type FlowRecord struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Amount     float64 `json:"amount"`
	SourceType string  `json:"source_type"`
	TargetType string  `json:"target_type"`
	Kind       string  `json:"kind"`
	Date       string  `json:"date"`
}

// FlowGraph is a small directed multigraph of money flows. Nodes are
// entities, edges are individual transfers weighted by amount.
type FlowGraph struct {
	nodeTypes map[string]string
	flows     []Flow
}

// NewFlowGraph returns an empty graph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{nodeTypes: make(map[string]string)}
}

// AddNode registers an entity. Re-adding overwrites its type.
func (g *FlowGraph) AddNode(id, nodeType string) {
	g.nodeTypes[id] = nodeType
}

// AddFlow appends one transfer edge. Endpoints not yet registered are
// added with empty types.
func (g *FlowGraph) AddFlow(f Flow) {
	if _, ok := g.nodeTypes[f.Source]; !ok {
		g.nodeTypes[f.Source] = ""
	}
	if _, ok := g.nodeTypes[f.Target]; !ok {
		g.nodeTypes[f.Target] = ""
	}
	g.flows = append(g.flows, f)
}

// BuildFlowGraph assembles a graph from raw records.
func BuildFlowGraph(records []FlowRecord) *FlowGraph {
	g := NewFlowGraph()
	for _, rec := range records {
		source, target := rec.Source, rec.Target
		if source == "" {
			source = "unknown"
		}
		if target == "" {
			target = "unknown"
		}
		if _, ok := g.nodeTypes[source]; !ok {
			st := rec.SourceType
			if st == "" {
				st = "payer"
			}
			g.AddNode(source, st)
		}
		if _, ok := g.nodeTypes[target]; !ok {
			tt := rec.TargetType
			if tt == "" {
				tt = "payee"
			}
			g.AddNode(target, tt)
		}
		kind := rec.Kind
		if kind == "" {
			kind = "payment"
		}
		g.AddFlow(Flow{Source: source, Target: target, Weight: rec.Amount, Kind: kind})
	}
	return g
}

// NodeCount returns the number of distinct entities.
func (g *FlowGraph) NodeCount() int { return len(g.nodeTypes) }

// FlowCount returns the number of transfer edges.
func (g *FlowGraph) FlowCount() int { return len(g.flows) }

// NodeTypes returns the distinct node types, sorted.
func (g *FlowGraph) NodeTypes() []string {
	seen := make(map[string]bool)
	for _, t := range g.nodeTypes {
		seen[t] = true
	}
	return sortedKeys(seen)
}

// FlowKinds returns the distinct edge kinds, sorted.
func (g *FlowGraph) FlowKinds() []string {
	seen := make(map[string]bool)
	for _, f := range g.flows {
		seen[f.Kind] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entropy computes the Shannon entropy of the flow-weight
// distribution. Low entropy means money concentrates in few
// relationships; an empty or zero-weight graph is 0.0.
func (g *FlowGraph) Entropy() float64 {
	if len(g.flows) == 0 {
		return 0.0
	}
	total := 0.0
	for _, f := range g.flows {
		total += f.Weight
	}
	if total == 0 {
		return 0.0
	}
	entropy := 0.0
	for _, f := range g.flows {
		if f.Weight > 0 {
			p := f.Weight / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// Centrality summarizes one node's connectivity.
type Centrality struct {
	InDegree    int     `json:"in_degree"`
	OutDegree   int     `json:"out_degree"`
	WeightedIn  float64 `json:"weighted_in"`
	WeightedOut float64 `json:"weighted_out"`
	TotalDegree int     `json:"total_degree"`
}

// Centrality computes degree and weight totals for a node.
func (g *FlowGraph) Centrality(id string) Centrality {
	var c Centrality
	for _, f := range g.flows {
		if f.Target == id {
			c.InDegree++
			c.WeightedIn += f.Weight
		}
		if f.Source == id {
			c.OutDegree++
			c.WeightedOut += f.Weight
		}
	}
	c.TotalDegree = c.InDegree + c.OutDegree
	return c
}

// Hub is a node whose share of the graph's edges crosses the
// centrality threshold.
type Hub struct {
	NodeID      string  `json:"node_id"`
	NodeType    string  `json:"node_type"`
	Centrality  float64 `json:"centrality"`
	InDegree    int     `json:"in_degree"`
	OutDegree   int     `json:"out_degree"`
	WeightedIn  float64 `json:"weighted_in"`
	WeightedOut float64 `json:"weighted_out"`
}

// DefaultHubThreshold is the normalized-degree share above which a
// node counts as a hub.
const DefaultHubThreshold = 0.3

// Hubs finds high-centrality nodes, sorted by centrality descending.
// Centrality is the node's degree share of all edge endpoints. A
// threshold of 0 or below means DefaultHubThreshold.
func (g *FlowGraph) Hubs(threshold float64) []Hub {
	if threshold <= 0 {
		threshold = DefaultHubThreshold
	}
	total := len(g.flows)
	if total == 0 {
		return nil
	}

	ids := make([]string, 0, len(g.nodeTypes))
	for id := range g.nodeTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var hubs []Hub
	for _, id := range ids {
		c := g.Centrality(id)
		normalized := float64(c.TotalDegree) / float64(2*total)
		if normalized > threshold {
			hubs = append(hubs, Hub{
				NodeID:      id,
				NodeType:    g.nodeTypes[id],
				Centrality:  normalized,
				InDegree:    c.InDegree,
				OutDegree:   c.OutDegree,
				WeightedIn:  c.WeightedIn,
				WeightedOut: c.WeightedOut,
			})
		}
	}
	sort.SliceStable(hubs, func(i, j int) bool {
		return hubs[i].Centrality > hubs[j].Centrality
	})
	return hubs
}

// TracePaths finds every path from source to target up to maxDepth
// hops, for following money through intermediaries. A depth of 0 or
// below means 5.
func (g *FlowGraph) TracePaths(source, target string, maxDepth int) [][]string {
	if maxDepth <= 0 {
		maxDepth = 5
	}

	outgoing := make(map[string][]string)
	for _, f := range g.flows {
		outgoing[f.Source] = append(outgoing[f.Source], f.Target)
	}
	for _, targets := range outgoing {
		sort.Strings(targets)
	}

	var paths [][]string
	onPath := map[string]bool{source: true}
	path := []string{source}

	var dfs func(current string, depth int)
	dfs = func(current string, depth int) {
		if depth > maxDepth {
			return
		}
		if current == target {
			paths = append(paths, append([]string(nil), path...))
			return
		}
		for _, next := range outgoing[current] {
			if onPath[next] {
				continue
			}
			onPath[next] = true
			path = append(path, next)
			dfs(next, depth+1)
			path = path[:len(path)-1]
			onPath[next] = false
		}
	}
	dfs(source, 0)
	return paths
}

// ConcentrationResult is the complete outcome of one flow-graph
// analysis.
type ConcentrationResult struct {
	GraphID      string   `json:"graph_id"`
	Nodes        int      `json:"nodes"`
	Edges        int      `json:"edges"`
	Entropy      float64  `json:"entropy"`
	Hubs         []Hub    `json:"hubs"`
	HubCount     int      `json:"hub_count"`
	AnalysisType string   `json:"analysis_type"`
	NodeTypes    []string `json:"node_types"`
	EdgeTypes    []string `json:"edge_types"`
}

// ConcentrationReceipt analyzes a flow graph, emits the
// "concentration" receipt (carrying the top ten hubs), and fires the
// configured stop rule on concentrated patterns or dominant hubs.
func (a *Analyzer) ConcentrationReceipt(g *FlowGraph, analysisType string) (receipt.Receipt, *ConcentrationResult, error) {
	if analysisType == "" {
		analysisType = "full"
	}

	hubs := g.Hubs(0)
	res := &ConcentrationResult{
		GraphID:      fmt.Sprintf("flow-%d-%d", g.NodeCount(), g.FlowCount()),
		Nodes:        g.NodeCount(),
		Edges:        g.FlowCount(),
		Entropy:      g.Entropy(),
		Hubs:         hubs,
		HubCount:     len(hubs),
		AnalysisType: analysisType,
		NodeTypes:    g.NodeTypes(),
		EdgeTypes:    g.FlowKinds(),
	}

	topHubs := hubs
	if len(topHubs) > 10 {
		topHubs = topHubs[:10]
	}
	if topHubs == nil {
		topHubs = []Hub{}
	}
	r, err := a.emitter.Emit(receipt.TypeConcentration, map[string]any{
		"graph_id":      res.GraphID,
		"nodes":         res.Nodes,
		"edges":         res.Edges,
		"entropy":       res.Entropy,
		"hubs":          topHubs,
		"hub_count":     res.HubCount,
		"analysis_type": res.AnalysisType,
		"node_types":    res.NodeTypes,
		"edge_types":    res.EdgeTypes,
	})
	if err != nil {
		return receipt.Receipt{}, res, err
	}

	if res.Entropy < 2.0 && res.Edges > 10 {
		_, perr := a.policy.Trigger(a.actions.Concentration, MetricConcentration,
			"flow network shows concentrated pattern",
			3.0, 3.0-res.Entropy)
		if perr != nil {
			return r, res, perr
		}
	}
	for _, hub := range hubs {
		if hub.Centrality > 0.5 {
			_, perr := a.policy.Trigger(a.actions.Concentration, MetricHubCentrality,
				fmt.Sprintf("high-centrality hub detected: %s", hub.NodeID),
				DefaultHubThreshold, hub.Centrality-DefaultHubThreshold)
			if perr != nil {
				return r, res, perr
			}
		}
	}
	return r, res, nil
}
