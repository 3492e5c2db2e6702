// Package flowchart renders the node and edge graph a UI draws while an
// action's checkpoints come in. It only reads strategy and snapshot data.
package flowchart

import (
	"fmt"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
)

// Node is one box in the chart. Protocol step ids match the checkpoint ids
// adapters report.
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Chain    string   `json:"chain,omitempty"`
	Category string   `json:"category,omitempty"`
	Symbols  []string `json:"symbolList,omitempty"`
	ImgSrc   string   `json:"imgSrc,omitempty"`
}

// EdgeData carries the share of the flow an edge represents.
type EdgeData struct {
	Ratio float64 `json:"ratio"`
}

// Edge connects two nodes.
type Edge struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Data   EdgeData `json:"data"`
}

// Graph is the full chart.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Params selects what the chart depicts.
type Params struct {
	// Chain is the chain the action runs on.
	Chain string
	// Token is the zapIn input or the zapOut and claim output token.
	Token domain.Token
	// Denomination picks the middle token of rebalance charts.
	Denomination strategy.Denomination
}

// Build returns the chart for action. Rebalance charts need snap; other
// actions ignore it.
func Build(s *strategy.Strategy, action domain.ActionName, p Params, snap *rebalancing.Snapshot) (*Graph, error) {
	b := &builder{seen: make(map[string]bool)}

	switch action {
	case domain.ActionZapIn, domain.ActionZapOut, domain.ActionStake, domain.ActionTransfer, domain.ActionClaimAndSwap:
		b.standard(s, action, p.Token)
	case domain.ActionRebalance, domain.ActionCrossChainRebalance, domain.ActionLocalRebalance:
		if snap == nil {
			return nil, fmt.Errorf("rebalance flow chart requires a balance snapshot")
		}
		if err := b.rebalance(s, action, p, snap); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w %s", domain.ErrInvalidAction, action)
	}

	return &Graph{
		Nodes: append(b.chainNodes, b.nodes...),
		Edges: b.edges,
	}, nil
}

// ChainImage is the icon path of a chain.
func ChainImage(chain string) string {
	return fmt.Sprintf("/chainPicturesWebp/%s.webp", chain)
}

// ProtocolImage is the icon path of the protocol in a unique id.
func ProtocolImage(uniqueID string) string {
	parts := strings.Split(uniqueID, "/")
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("/projectPictures/%s.webp", parts[1])
}

type builder struct {
	chainNodes []Node
	nodes      []Node
	edges      []Edge
	seen       map[string]bool
}

func (b *builder) addChain(id, name, chain, category string) bool {
	if b.seen[id] {
		return false
	}
	b.seen[id] = true
	b.chainNodes = append(b.chainNodes, Node{
		ID:       id,
		Name:     name,
		Chain:    chain,
		Category: category,
		ImgSrc:   ChainImage(chain),
	})
	return true
}

// steps appends the adapter's step nodes chained by edges of ratio and
// returns the first and last node ids.
func (b *builder) steps(a domain.ProtocolAdapter, action domain.ActionName, token domain.Token, ratio float64) (string, string, bool) {
	steps := a.FlowChartSteps(action, token)
	if len(steps) == 0 {
		return "", "", false
	}

	uid := a.UniqueID()
	for i, st := range steps {
		id := uid + "-" + st.Suffix
		b.nodes = append(b.nodes, Node{
			ID:      id,
			Name:    st.Name,
			Chain:   a.Chain(),
			Symbols: []string{a.Asset().Symbol},
			ImgSrc:  ProtocolImage(uid),
		})
		if i > 0 {
			b.edges = append(b.edges, Edge{
				ID:     fmt.Sprintf("edge-%s-%d", uid, i-1),
				Source: uid + "-" + steps[i-1].Suffix,
				Target: id,
				Data:   EdgeData{Ratio: ratio},
			})
		}
	}
	return uid + "-" + steps[0].Suffix, uid + "-" + steps[len(steps)-1].Suffix, true
}

func (b *builder) edge(source, target string, ratio float64) {
	b.edges = append(b.edges, Edge{
		ID:     fmt.Sprintf("edge-%s-%s", source, target),
		Source: source,
		Target: target,
		Data:   EdgeData{Ratio: ratio},
	})
}

func (b *builder) standard(s *strategy.Strategy, action domain.ActionName, token domain.Token) {
	for _, e := range s.Entries() {
		weight := e.Position.Weight()
		if weight == 0 {
			continue
		}
		b.addChain(e.Chain, string(action), e.Chain, e.Category)

		adapter := e.Position.Adapter()
		first, _, ok := b.steps(adapter, action, token, weight)
		if !ok {
			continue
		}
		b.edges = append(b.edges, Edge{
			ID:     fmt.Sprintf("edge-%s-%s", e.Chain, adapter.UniqueID()),
			Source: e.Chain,
			Target: first,
			Data:   EdgeData{Ratio: weight},
		})
	}
}

func (b *builder) rebalance(s *strategy.Strategy, action domain.ActionName, p Params, snap *rebalancing.Snapshot) error {
	active := make(map[string]bool)
	for _, a := range snap.Metadata.RebalanceActionsByChain {
		active[a.Chain] = true
	}

	// zap-out side: overweight positions on chains that rebalance
	var endOfZapOut string
	for _, e := range s.Entries() {
		adapter := e.Position.Adapter()
		bal, ok := snap.Get(adapter)
		if !ok || !active[e.Chain] || bal.WeightDiff <= rebalancing.RebalanceThreshold {
			continue
		}

		barrier := rebalancing.EndOfZapOutCheckpoint(e.Chain)
		if b.addChain(e.Chain, string(action), e.Chain, "") {
			b.nodes = append(b.nodes, Node{
				ID:     barrier,
				Name:   "Start Zapping In",
				Chain:  e.Chain,
				ImgSrc: ChainImage(e.Chain),
			})
		}
		if endOfZapOut == "" || e.Chain == p.Chain {
			endOfZapOut = barrier
		}

		middle, err := p.Denomination.MiddleToken(e.Chain)
		if err != nil {
			return err
		}
		ratio := 0.0
		if snap.Metadata.PositiveWeightDiffSum > 0 {
			ratio = bal.WeightDiff / snap.Metadata.PositiveWeightDiffSum
		}
		first, last, ok := b.steps(adapter, domain.ActionZapOut, middle, ratio)
		if !ok {
			continue
		}
		b.edges = append(b.edges,
			Edge{
				ID:     fmt.Sprintf("edge-%s-%s", e.Chain, adapter.UniqueID()),
				Source: e.Chain,
				Target: first,
				Data:   EdgeData{Ratio: ratio},
			},
			Edge{
				ID:     fmt.Sprintf("edge-%s-endOfZapOut", last),
				Source: last,
				Target: barrier,
				Data:   EdgeData{Ratio: ratio},
			},
		)
	}
	if endOfZapOut == "" {
		return nil
	}

	// zap-in side: underweight positions, bridged when on another chain
	for _, e := range s.Entries() {
		adapter := e.Position.Adapter()
		bal, ok := snap.Get(adapter)
		if !ok || bal.WeightDiff >= 0 {
			continue
		}

		ratio := 0.0
		if snap.Metadata.NegativeWeightDiffSum > 0 {
			ratio = -bal.WeightDiff / snap.Metadata.NegativeWeightDiffSum
		}
		if b.addChain(e.Chain, "Bridge to "+e.Chain, e.Chain, "") {
			b.edge(endOfZapOut, e.Chain, ratio)
		}

		middle, err := p.Denomination.MiddleToken(e.Chain)
		if err != nil {
			return err
		}
		first, _, ok := b.steps(adapter, domain.ActionZapIn, middle, ratio)
		if !ok {
			continue
		}
		source := e.Chain
		if e.Chain == p.Chain {
			source = endOfZapOut
		}
		b.edges = append(b.edges, Edge{
			ID:     fmt.Sprintf("edge-%s-%s", endOfZapOut, adapter.UniqueID()),
			Source: source,
			Target: first,
			Data:   EdgeData{Ratio: ratio},
		})
	}
	return nil
}
