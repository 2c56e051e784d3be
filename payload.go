package fluxflow

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Kind identifies which pipeline stage a node renders to.
type Kind string

const (
	KindSource        Kind = "source"
	KindFilter        Kind = "filter"
	KindAggregation   Kind = "aggregation"
	KindVisualisation Kind = "visualisation"
)

// AggregateFunctions lists the functions an Aggregation node may apply.
var AggregateFunctions = []string{"count", "mean", "sum", "max", "min"}

// Payload is the kind-specific part of a node. The set of implementations is
// closed: Source, Filter, Aggregation and Visualisation.
type Payload interface {
	Kind() Kind
	sealed()
}

// Source starts a pipeline by reading a bucket over a lookback window.
// An empty Range falls back to the graph's SourceRange.
type Source struct {
	Bucket string `json:"bucket" validate:"required"`
	Range  string `json:"range,omitempty" validate:"omitempty,fluxduration"`
}

// Filter keeps rows whose Key column equals Value.
type Filter struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// Aggregation windows rows and reduces each window with Function.
// An empty Window falls back to the graph's AggregateWindow.
type Aggregation struct {
	Function string `json:"function" validate:"required,oneof=count mean sum max min"`
	Window   string `json:"window,omitempty" validate:"omitempty,fluxduration"`
}

// Visualisation yields the pipeline result under OutputName.
type Visualisation struct {
	OutputName string `json:"outputName,omitempty"`
}

func (Source) Kind() Kind        { return KindSource }
func (Filter) Kind() Kind        { return KindFilter }
func (Aggregation) Kind() Kind   { return KindAggregation }
func (Visualisation) Kind() Kind { return KindVisualisation }

func (Source) sealed()        {}
func (Filter) sealed()        {}
func (Aggregation) sealed()   {}
func (Visualisation) sealed() {}

var (
	validate = validator.New()

	// One or more <int><unit> pairs, e.g. 5m, 1h30m, 2mo.
	fluxDurationPattern = regexp.MustCompile(`^([0-9]+(ns|us|µs|ms|s|m|h|d|w|mo|y))+$`)
)

func init() {
	if err := validate.RegisterValidation("fluxduration", func(fl validator.FieldLevel) bool {
		return fluxDurationPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// IsDuration reports whether s is a Flux duration literal.
func IsDuration(s string) bool {
	return fluxDurationPattern.MatchString(s)
}

// ValidatePayload checks the kind-specific fields of p.
func ValidatePayload(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "fluxduration":
		return fmt.Sprintf("%s must be a duration such as 5m or 1h, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
