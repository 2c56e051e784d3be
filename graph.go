package fluxflow

import (
	"fmt"
	"strconv"
)

// Defaults applied when a node leaves its own duration or name empty.
const (
	DefaultSourceRange     = "1h"
	DefaultAggregateWindow = "5m"
	DefaultOutputName      = "visualisation"
)

// Anchor ids are reserved for the Source and Visualisation nodes every fresh
// graph starts with.
const (
	AnchorSourceID        = "0"
	AnchorVisualisationID = "1"
)

// Position is the canvas location of a node. The compiler ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a vertex in the query graph.
type Node struct {
	ID       string
	Payload  Payload
	Position Position
}

// Kind returns the node's kind, or "" when it has no payload.
func (n Node) Kind() Kind {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.Kind()
}

// Edge represents a directed connection from Source to Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func edgeID(source, target string) string {
	return "e" + source + "-" + target
}

// Graph is the node/edge collection owned by one editing session.
// It is not safe for concurrent mutation; callers serialize access.
type Graph struct {
	// SourceRange and AggregateWindow apply to Source and Aggregation nodes
	// that leave their own duration empty.
	SourceRange     string
	AggregateWindow string

	nodes  map[string]*Node
	order  []string
	edges  []Edge
	nextID int
}

// firstGeneratedID is where generated ids start, above the anchor ids.
const firstGeneratedID = 2

// NewGraph returns an empty graph. Generated ids never collide with the
// anchor ids, even when the anchors are absent.
func NewGraph() *Graph {
	return &Graph{
		SourceRange:     DefaultSourceRange,
		AggregateWindow: DefaultAggregateWindow,
		nodes:           make(map[string]*Node),
		nextID:          firstGeneratedID,
	}
}

// NewDefaultGraph returns a graph holding the two anchor nodes, a Source
// reading bucket and a Visualisation, connected to each other.
func NewDefaultGraph(bucket string) *Graph {
	g := NewGraph()
	g.insert(Node{ID: AnchorSourceID, Payload: Source{Bucket: bucket}, Position: Position{X: 200, Y: 100}})
	g.insert(Node{ID: AnchorVisualisationID, Payload: Visualisation{OutputName: DefaultOutputName}, Position: Position{X: 500, Y: 400}})
	g.edges = append(g.edges, Edge{
		ID:     edgeID(AnchorSourceID, AnchorVisualisationID),
		Source: AnchorSourceID,
		Target: AnchorVisualisationID,
	})
	return g
}

func (g *Graph) insert(n Node) {
	stored := n
	g.nodes[n.ID] = &stored
	g.order = append(g.order, n.ID)
	g.bumpCounter(n.ID)
}

// bumpCounter keeps nextID above every numeric id in the graph.
func (g *Graph) bumpCounter(id string) {
	if v, err := strconv.Atoi(id); err == nil && v >= g.nextID {
		g.nextID = v + 1
	}
}

func (g *Graph) newID() string {
	for {
		id := strconv.Itoa(g.nextID)
		g.nextID++
		if _, taken := g.nodes[id]; !taken {
			return id
		}
	}
}

// AddNode validates p and appends it as a new node with a generated id.
func (g *Graph) AddNode(p Payload) (string, error) {
	if err := ValidatePayload(p); err != nil {
		return "", err
	}
	id := g.newID()
	g.insert(Node{ID: id, Payload: p})
	return id, nil
}

// InsertNode adds n under its own id. The payload is only checked for
// presence: graphs decoded from storage may carry incomplete payloads and
// still compile.
func (g *Graph) InsertNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidPayload)
	}
	if n.Payload == nil {
		return fmt.Errorf("%w: node %s has no payload", ErrInvalidPayload, n.ID)
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.insert(n)
	return nil
}

// UpdateNode replaces the payload of node id. The kind cannot change.
func (g *Graph) UpdateNode(id string, p Payload) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if p != nil && n.Kind() != p.Kind() {
		return fmt.Errorf("%w: node %s is %s, got %s", ErrKindMismatch, id, n.Kind(), p.Kind())
	}
	if err := ValidatePayload(p); err != nil {
		return err
	}
	n.Payload = p
	return nil
}

// MoveNode sets the canvas position of node id.
func (g *Graph) MoveNode(id string, pos Position) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Position = pos
	return nil
}

// RemoveNode deletes node id together with every edge touching it.
func (g *Graph) RemoveNode(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(g.nodes, id)
	for i, nid := range g.order {
		if nid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	return nil
}

// AddEdge validates and then appends the edge source → target.
// A rejected edge leaves the graph untouched.
func (g *Graph) AddEdge(source, target string) (Edge, error) {
	if err := g.ValidateEdge(source, target); err != nil {
		return Edge{}, err
	}
	e := Edge{ID: edgeID(source, target), Source: source, Target: target}
	g.edges = append(g.edges, e)
	return e, nil
}

// RemoveEdge deletes the edge source → target.
func (g *Graph) RemoveEdge(source, target string) error {
	for i, e := range g.edges {
		if e.Source == source && e.Target == target {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, source, target)
}

// Node returns a copy of node id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Parents returns the sources of edges ending at id, in the order those
// edges were added.
func (g *Graph) Parents(id string) []string {
	var parents []string
	for _, e := range g.edges {
		if e.Target == id {
			parents = append(parents, e.Source)
		}
	}
	return parents
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.SourceRange = g.SourceRange
	c.AggregateWindow = g.AggregateWindow
	for _, id := range g.order {
		c.insert(*g.nodes[id])
	}
	c.edges = g.Edges()
	if g.nextID > c.nextID {
		c.nextID = g.nextID
	}
	return c
}
