package fluxflow

import (
	"encoding/json"
	"fmt"
)

// nodeJSON is the wire form of a Node. Data holds the kind-specific payload.
type nodeJSON struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Data     json.RawMessage `json:"data"`
	Position Position        `json:"position"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	if n.Payload == nil {
		return nil, fmt.Errorf("fluxflow: node %s has no payload", n.ID)
	}
	data, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("fluxflow: marshal node %s: %w", n.ID, err)
	}
	return json.Marshal(nodeJSON{ID: n.ID, Kind: n.Payload.Kind(), Data: data, Position: n.Position})
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := decodePayload(raw.Kind, raw.Data)
	if err != nil {
		return fmt.Errorf("fluxflow: node %s: %w", raw.ID, err)
	}
	*n = Node{ID: raw.ID, Payload: p, Position: raw.Position}
	return nil
}

// DecodePayload parses data as the payload of kind k.
func DecodePayload(k Kind, data json.RawMessage) (Payload, error) {
	return decodePayload(k, data)
}

func decodePayload(k Kind, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	switch k {
	case KindSource:
		var p Source
		err := json.Unmarshal(data, &p)
		return p, err
	case KindFilter:
		var p Filter
		err := json.Unmarshal(data, &p)
		return p, err
	case KindAggregation:
		var p Aggregation
		err := json.Unmarshal(data, &p)
		return p, err
	case KindVisualisation:
		var p Visualisation
		err := json.Unmarshal(data, &p)
		return p, err
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, k)
	}
}

// graphJSON is the wire form of a Graph.
type graphJSON struct {
	Nodes           []Node `json:"nodes"`
	Edges           []Edge `json:"edges"`
	SourceRange     string `json:"sourceRange,omitempty"`
	AggregateWindow string `json:"aggregateWindow,omitempty"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{
		Nodes:           g.Nodes(),
		Edges:           g.Edges(),
		SourceRange:     g.SourceRange,
		AggregateWindow: g.AggregateWindow,
	})
}

// UnmarshalJSON replaces g with the decoded graph. Payloads go through
// ValidatePayload and every edge through ValidateEdge, so a bad node fails
// decoding with ErrInvalidPayload and an illegal connection with an
// *EdgeError.
func (g *Graph) UnmarshalJSON(b []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if err := checkWindow("sourceRange", raw.SourceRange); err != nil {
		return err
	}
	if err := checkWindow("aggregateWindow", raw.AggregateWindow); err != nil {
		return err
	}
	decoded := NewGraph()
	decoded.SourceRange = firstNonEmpty(raw.SourceRange, DefaultSourceRange)
	decoded.AggregateWindow = firstNonEmpty(raw.AggregateWindow, DefaultAggregateWindow)
	for _, n := range raw.Nodes {
		if err := ValidatePayload(n.Payload); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		if err := decoded.InsertNode(n); err != nil {
			return err
		}
	}
	for _, e := range raw.Edges {
		if _, err := decoded.AddEdge(e.Source, e.Target); err != nil {
			return err
		}
	}
	*g = *decoded
	return nil
}

func checkWindow(name, d string) error {
	if d != "" && !IsDuration(d) {
		return fmt.Errorf("%w: %s must be a duration such as 5m or 1h, got %q", ErrInvalidPayload, name, d)
	}
	return nil
}
