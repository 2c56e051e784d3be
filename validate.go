package fluxflow

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrSelfLoop                    = errors.New("fluxflow: cannot connect a node to itself")
	ErrUnknownNode                 = errors.New("fluxflow: connection references an unknown node")
	ErrDuplicateEdge               = errors.New("fluxflow: connection already exists")
	ErrIllegalKindTransition       = errors.New("fluxflow: illegal connection between node kinds")
	ErrAggregationMustFollowFilter = errors.New("fluxflow: aggregations must come after filter nodes")
	ErrChainedAggregation          = errors.New("fluxflow: cannot chain aggregations directly")
)

// adjacency lists the kinds each kind may connect to.
var adjacency = map[Kind][]Kind{
	KindSource:        {KindFilter, KindAggregation, KindVisualisation},
	KindFilter:        {KindFilter, KindAggregation, KindVisualisation},
	KindAggregation:   {KindVisualisation},
	KindVisualisation: {},
}

// AllowedTargets returns the kinds a node of kind k may connect to.
func AllowedTargets(k Kind) []Kind {
	return slices.Clone(adjacency[k])
}

// EdgeError describes why a connection was rejected. Err is one of the
// ErrSelfLoop ... ErrChainedAggregation sentinels.
type EdgeError struct {
	Source     string
	Target     string
	SourceKind Kind
	TargetKind Kind
	Err        error
}

func (e *EdgeError) Error() string {
	if e.SourceKind != "" && e.TargetKind != "" {
		return fmt.Sprintf("%v: %s (%s) -> %s (%s)", e.Err, e.Source, e.SourceKind, e.Target, e.TargetKind)
	}
	return fmt.Sprintf("%v: %s -> %s", e.Err, e.Source, e.Target)
}

func (e *EdgeError) Unwrap() error { return e.Err }

// Reason returns a short stable name for the rejection.
func (e *EdgeError) Reason() string {
	switch e.Err {
	case ErrSelfLoop:
		return "self_loop"
	case ErrUnknownNode:
		return "unknown_node"
	case ErrDuplicateEdge:
		return "duplicate_edge"
	case ErrIllegalKindTransition:
		return "illegal_kind_transition"
	case ErrAggregationMustFollowFilter:
		return "aggregation_must_follow_filter"
	case ErrChainedAggregation:
		return "chained_aggregation"
	default:
		return "unknown"
	}
}

// ValidateEdge reports whether source → target may be added to g.
// It never mutates g.
func ValidateEdge(g *Graph, source, target string) error {
	return g.ValidateEdge(source, target)
}

// ValidateEdge checks, in order and stopping at the first violation:
// self-loop, unknown endpoint, duplicate pair, adjacency table, then the
// Source → Aggregation and Aggregation → Aggregation rules.
func (g *Graph) ValidateEdge(source, target string) error {
	reject := func(err error, sk, tk Kind) error {
		return &EdgeError{Source: source, Target: target, SourceKind: sk, TargetKind: tk, Err: err}
	}

	if source == target {
		return reject(ErrSelfLoop, "", "")
	}

	src, ok := g.nodes[source]
	if !ok {
		return reject(ErrUnknownNode, "", "")
	}
	tgt, ok := g.nodes[target]
	if !ok {
		return reject(ErrUnknownNode, "", "")
	}

	for _, e := range g.edges {
		if e.Source == source && e.Target == target {
			return reject(ErrDuplicateEdge, src.Kind(), tgt.Kind())
		}
	}

	sk, tk := src.Kind(), tgt.Kind()
	if !slices.Contains(adjacency[sk], tk) {
		return reject(ErrIllegalKindTransition, sk, tk)
	}
	if sk == KindSource && tk == KindAggregation {
		return reject(ErrAggregationMustFollowFilter, sk, tk)
	}
	// Shadowed by the table today.
	if sk == KindAggregation && tk == KindAggregation {
		return reject(ErrChainedAggregation, sk, tk)
	}
	return nil
}
