package fluxflow

import "strconv"

// Preset is a named, reusable snapshot of a graph.
type Preset struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Nodes           []Node `json:"nodes"`
	Edges           []Edge `json:"edges"`
	AggregateWindow string `json:"aggregateWindow"`
	SourceRange     string `json:"sourceRange"`
}

// presetOffset shifts merged nodes so they do not cover existing ones.
const presetOffset = 100

// Snapshot captures the graph as a preset.
func (g *Graph) Snapshot(id, label string) Preset {
	return Preset{
		ID:              id,
		Label:           label,
		Nodes:           g.Nodes(),
		Edges:           g.Edges(),
		AggregateWindow: g.AggregateWindow,
		SourceRange:     g.SourceRange,
	}
}

// LoadPreset builds a graph that fully replaces the live one. Nodes with a
// repeated id and edges that no longer validate are dropped. The id counter
// starts above the highest numeric id in the preset.
func LoadPreset(p Preset) *Graph {
	g := NewGraph()
	g.AggregateWindow = firstNonEmpty(p.AggregateWindow, DefaultAggregateWindow)
	g.SourceRange = firstNonEmpty(p.SourceRange, DefaultSourceRange)
	for _, n := range p.Nodes {
		_ = g.InsertNode(n)
	}
	for _, e := range p.Edges {
		_, _ = g.AddEdge(e.Source, e.Target)
	}
	return g
}

// AddExistingPreset merges p into g. Every imported node gets a fresh id
// starting above the highest id in g; the anchor ids and any edge touching
// them are skipped so the live graph keeps a single pair of anchors.
// Remapped edges go through ValidateEdge and rejected ones are dropped.
// Preset windows replace the graph's when set. The returned map takes
// preset ids to the ids they were imported under.
func (g *Graph) AddExistingPreset(p Preset) map[string]string {
	next := g.nextID

	idMap := make(map[string]string)
	for _, n := range p.Nodes {
		if isAnchor(n.ID) || n.Payload == nil {
			continue
		}
		if _, seen := idMap[n.ID]; seen {
			continue
		}
		newID := strconv.Itoa(next)
		next++
		idMap[n.ID] = newID
		n.ID = newID
		n.Position = Position{X: n.Position.X + presetOffset, Y: n.Position.Y + presetOffset}
		g.insert(n)
	}

	for _, e := range p.Edges {
		if isAnchor(e.Source) || isAnchor(e.Target) {
			continue
		}
		source, okSource := idMap[e.Source]
		target, okTarget := idMap[e.Target]
		if !okSource || !okTarget {
			continue
		}
		_, _ = g.AddEdge(source, target)
	}

	if next > g.nextID {
		g.nextID = next
	}
	if p.AggregateWindow != "" {
		g.AggregateWindow = p.AggregateWindow
	}
	if p.SourceRange != "" {
		g.SourceRange = p.SourceRange
	}
	return idMap
}

func isAnchor(id string) bool {
	return id == AnchorSourceID || id == AnchorVisualisationID
}
