package fluxflow

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Output is the script compiled for one Visualisation node.
type Output struct {
	OutputID string `json:"outputId"`
	Script   string `json:"script"`
}

// Compile builds one script per Visualisation node, in node insertion order.
//
// Compilation never fails. A Visualisation with no Source ancestor still
// yields a script without a from() stage, and a node met again while its own
// parents are being resolved contributes nothing. Deciding whether such a
// script is runnable is left to the upstream service.
func (g *Graph) Compile() []Output {
	outputs := []Output{}
	for _, id := range g.order {
		if g.nodes[id].Kind() != KindVisualisation {
			continue
		}
		outputs = append(outputs, Output{
			OutputID: id,
			Script:   g.buildScript(id, make(map[string]bool)),
		})
	}
	return outputs
}

// Script compiles the pipeline ending at the Visualisation node outputID.
func (g *Graph) Script(outputID string) (string, error) {
	n, ok := g.nodes[outputID]
	if !ok || n.Kind() != KindVisualisation {
		return "", fmt.Errorf("%w: %s", ErrOutputNotFound, outputID)
	}
	return g.buildScript(outputID, make(map[string]bool)), nil
}

// buildScript renders every parent pipeline, in edge order, followed by the
// node's own stage. path holds the nodes currently being resolved.
func (g *Graph) buildScript(id string, path map[string]bool) string {
	n, ok := g.nodes[id]
	if !ok || path[id] {
		return ""
	}
	path[id] = true
	defer delete(path, id)

	var lines []string
	for _, parent := range g.Parents(id) {
		if s := g.buildScript(parent, path); s != "" {
			lines = append(lines, s)
		}
	}
	if stage := g.renderStage(*n); stage != "" {
		lines = append(lines, stage)
	}
	return strings.Join(lines, "\n")
}

func (g *Graph) renderStage(n Node) string {
	switch p := n.Payload.(type) {
	case Source:
		return fmt.Sprintf("from(bucket: %s) |> range(start: -%s)",
			QuoteString(p.Bucket), firstDuration(p.Range, g.SourceRange, DefaultSourceRange))
	case Filter:
		return fmt.Sprintf("|> filter(fn: (r) => %s == %s)", columnRef(p.Key), QuoteString(p.Value))
	case Aggregation:
		// Stored presets load without payload validation; an unknown
		// function renders no stage.
		if !slices.Contains(AggregateFunctions, p.Function) {
			return ""
		}
		return fmt.Sprintf("|> aggregateWindow(every: %s, fn: %s, createEmpty: false)",
			firstDuration(p.Window, g.AggregateWindow, DefaultAggregateWindow), p.Function)
	case Visualisation:
		return fmt.Sprintf("|> yield(name: %s)", QuoteString(firstNonEmpty(p.OutputName, DefaultOutputName)))
	default:
		return ""
	}
}

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	stringEscaper     = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
)

// QuoteString returns s as a Flux string literal.
func QuoteString(s string) string {
	return `"` + stringEscaper.Replace(s) + `"`
}

// columnRef renders r.<key>, switching to bracket access for keys that are
// not identifiers.
func columnRef(key string) string {
	if identifierPattern.MatchString(key) {
		return "r." + key
	}
	return "r[" + QuoteString(key) + "]"
}

// firstDuration returns the first value that is a Flux duration literal.
func firstDuration(values ...string) string {
	for _, v := range values {
		if IsDuration(v) {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
