package fluxflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_WireForm(t *testing.T) {
	n := Node{ID: "3", Payload: Aggregation{Function: "max", Window: "10m"}, Position: Position{X: 1, Y: 2}}

	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "3",
		"kind": "aggregation",
		"data": {"function": "max", "window": "10m"},
		"position": {"x": 1, "y": 2}
	}`, string(b))

	var back Node
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, n, back)
}

func TestNode_UnmarshalUnknownKind(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"id":"1","kind":"chart","data":{}}`), &n)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNode_MarshalWithoutPayload(t *testing.T) {
	_, err := json.Marshal(Node{ID: "1"})
	assert.Error(t, err)
}

func TestGraph_UnmarshalJSON(t *testing.T) {
	body := `{
		"nodes": [
			{"id": "0", "kind": "source", "data": {"bucket": "telemetry"}},
			{"id": "4", "kind": "filter", "data": {"key": "host", "value": "a"}},
			{"id": "1", "kind": "visualisation", "data": {}}
		],
		"edges": [
			{"source": "0", "target": "4"},
			{"source": "4", "target": "1"}
		],
		"aggregateWindow": "30s"
	}`

	g := NewGraph()
	require.NoError(t, json.Unmarshal([]byte(body), g))

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, "30s", g.AggregateWindow)
	assert.Equal(t, DefaultSourceRange, g.SourceRange)
	assert.Equal(t, []string{"4"}, g.Parents("1"))
	assert.Equal(t, "e0-4", g.Edges()[0].ID)

	id, err := g.AddNode(Filter{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "5", id)

	out, err := json.Marshal(g)
	require.NoError(t, err)
	again := NewGraph()
	require.NoError(t, json.Unmarshal(out, again))
	assert.Equal(t, g.Compile(), again.Compile())
}

func TestGraph_UnmarshalJSON_RejectsIllegalEdge(t *testing.T) {
	body := `{
		"nodes": [
			{"id": "0", "kind": "source", "data": {"bucket": "b"}},
			{"id": "2", "kind": "aggregation", "data": {"function": "mean"}}
		],
		"edges": [{"source": "0", "target": "2"}]
	}`

	g := NewGraph()
	err := json.Unmarshal([]byte(body), g)
	require.Error(t, err)

	var edgeErr *EdgeError
	require.True(t, errors.As(err, &edgeErr))
	assert.Equal(t, "aggregation_must_follow_filter", edgeErr.Reason())
	assert.Equal(t, 0, g.Len(), "a failed decode leaves the target untouched")
}

func TestGraph_UnmarshalJSON_RejectsDuplicateNode(t *testing.T) {
	body := `{"nodes": [
		{"id": "0", "kind": "source", "data": {"bucket": "b"}},
		{"id": "0", "kind": "filter", "data": {"key": "k"}}
	]}`
	err := json.Unmarshal([]byte(body), NewGraph())
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestPreset_JSON(t *testing.T) {
	p := cpuPreset(t)
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var back Preset
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, p, back)
	assert.Equal(t, LoadPreset(p).Compile(), LoadPreset(back).Compile())
}

func TestGraph_UnmarshalJSON_ValidatesPayloads(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{
			name: "unknown aggregate function",
			body: `{"nodes": [{"id": "2", "kind": "aggregation", "data": {"function": "mean) |> drop(columns: [\"x\"]"}}]}`,
		},
		{
			name: "source range is not a duration",
			body: `{"nodes": [{"id": "0", "kind": "source", "data": {"bucket": "b", "range": "1h) |> to(bucket: \"stolen\""}}]}`,
		},
		{
			name: "aggregation window is not a duration",
			body: `{"nodes": [{"id": "2", "kind": "aggregation", "data": {"function": "sum", "window": "5 minutes"}}]}`,
		},
		{
			name: "filter without key",
			body: `{"nodes": [{"id": "2", "kind": "filter", "data": {"value": "a"}}]}`,
		},
		{
			name: "graph window is not a duration",
			body: `{"nodes": [], "aggregateWindow": "5m, fn: mean"}`,
		},
		{
			name: "graph range is not a duration",
			body: `{"nodes": [], "sourceRange": "yesterday"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewDefaultGraph("b")
			err := json.Unmarshal([]byte(tc.body), g)
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.Equal(t, 2, g.Len(), "a failed decode leaves the target untouched")
		})
	}
}

func TestVisualisation_WireName(t *testing.T) {
	b, err := json.Marshal(Node{ID: "1", Payload: Visualisation{OutputName: "cpu"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","kind":"visualisation","data":{"outputName":"cpu"},"position":{"x":0,"y":0}}`, string(b))
}
