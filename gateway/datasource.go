package gateway

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/fluxflow"
)

// Datasource is the subset of an upstream datasource record the gateway uses.
type Datasource struct {
	ID   int64  `json:"id"`
	UID  string `json:"uid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Frame is one result frame of a query. Values holds one slice per column.
type Frame struct {
	Schema map[string]any `json:"schema,omitempty"`
	Data   FrameData      `json:"data"`
}

// FrameData holds the column values of a frame.
type FrameData struct {
	Values [][]any `json:"values"`
}

// QueryResult is the tabular result of one executed script.
type QueryResult struct {
	RefID  string  `json:"refId"`
	Frames []Frame `json:"frames"`
}

// BucketMetadata lists what can be filtered on inside a bucket. Tags maps
// each tag key to its values.
type BucketMetadata struct {
	Bucket       string              `json:"bucket"`
	Measurements []string            `json:"measurements"`
	Fields       []string            `json:"fields"`
	Tags         map[string][]string `json:"tags"`
}

const queryRefID = "A"

type dsQuery struct {
	RefID        string            `json:"refId"`
	Datasource   map[string]string `json:"datasource"`
	Query        string            `json:"query"`
	ResultFormat string            `json:"resultFormat"`
}

type dsQueryRequest struct {
	Queries []dsQuery `json:"queries"`
}

type dsQueryResponse struct {
	Results map[string]struct {
		Error  string  `json:"error,omitempty"`
		Frames []Frame `json:"frames"`
	} `json:"results"`
}

// datasource finds the configured time-series datasource.
func (g *Gateway) datasource(ctx context.Context, credential, op string) (*Datasource, error) {
	var all []Datasource
	if _, err := g.client.call(ctx, request{
		op:         op,
		method:     http.MethodGet,
		path:       "/api/datasources",
		credential: credential,
	}, &all); err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Type == g.datasourceType {
			return &all[i], nil
		}
	}
	return nil, newError(KindNoMatchingDatasource, op, "no %s datasource found upstream", g.datasourceType)
}

// query executes one script through the upstream query proxy.
func (g *Gateway) query(ctx context.Context, credential, op string, ds *Datasource, script string) (*QueryResult, error) {
	var out dsQueryResponse
	if _, err := g.client.call(ctx, request{
		op:         op,
		method:     http.MethodPost,
		path:       "/api/ds/query",
		credential: credential,
		body: dsQueryRequest{Queries: []dsQuery{{
			RefID:        queryRefID,
			Datasource:   map[string]string{"type": ds.Type, "uid": ds.UID},
			Query:        script,
			ResultFormat: "table",
		}}},
	}, &out); err != nil {
		return nil, err
	}
	res := out.Results[queryRefID]
	if res.Error != "" {
		return nil, newError(KindUpstreamProtocol, op, "query failed: %s", res.Error)
	}
	return &QueryResult{RefID: queryRefID, Frames: res.Frames}, nil
}

// firstColumn flattens the first column of every frame.
func firstColumn(frames []Frame) []string {
	values := []string{}
	for _, f := range frames {
		if len(f.Data.Values) == 0 {
			continue
		}
		for _, v := range f.Data.Values[0] {
			if s, ok := v.(string); ok {
				values = append(values, s)
			} else if v != nil {
				values = append(values, fmt.Sprint(v))
			}
		}
	}
	return values
}

func (g *Gateway) column(ctx context.Context, credential, op string, ds *Datasource, script string) ([]string, error) {
	res, err := g.query(ctx, credential, op, ds, script)
	if err != nil {
		return nil, err
	}
	return firstColumn(res.Frames), nil
}

// ListBuckets returns the bucket names known to the time-series datasource.
func (g *Gateway) ListBuckets(ctx context.Context, sessionID string) ([]string, error) {
	const op = "list_buckets"
	b, err := g.credential(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	ds, err := g.datasource(ctx, b.Credential, op)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	buckets, err := g.column(ctx, b.Credential, op, ds, bucketsScript)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	return buckets, nil
}

// BucketMetadata discovers the measurements, fields and tags of bucket. Tag
// values are fetched with one query per tag key, run concurrently; any
// failure fails the whole call.
func (g *Gateway) BucketMetadata(ctx context.Context, sessionID, bucket string) (*BucketMetadata, error) {
	const op = "bucket_metadata"
	b, err := g.credential(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		return nil, newError(KindValidation, op, "bucket is required")
	}
	ds, err := g.datasource(ctx, b.Credential, op)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}

	meta := &BucketMetadata{Bucket: bucket, Tags: map[string][]string{}}
	var tagKeys []string

	schemaGroup, sctx := errgroup.WithContext(ctx)
	schemaGroup.Go(func() error {
		var err error
		meta.Measurements, err = g.column(sctx, b.Credential, op, ds, schemaScript("measurements", bucket))
		return err
	})
	schemaGroup.Go(func() error {
		var err error
		meta.Fields, err = g.column(sctx, b.Credential, op, ds, schemaScript("fieldKeys", bucket))
		return err
	})
	schemaGroup.Go(func() error {
		var err error
		tagKeys, err = g.column(sctx, b.Credential, op, ds, schemaScript("tagKeys", bucket))
		return err
	})
	if err := schemaGroup.Wait(); err != nil {
		g.logFailure(err)
		return nil, err
	}

	if len(tagKeys) == 0 {
		return meta, nil
	}

	values := make([][]string, len(tagKeys))
	tagGroup, tctx := errgroup.WithContext(ctx)
	if g.maxConcurrent > 0 {
		tagGroup.SetLimit(g.maxConcurrent)
	}
	for i, key := range tagKeys {
		tagGroup.Go(func() error {
			v, err := g.column(tctx, b.Credential, op, ds, tagValuesScript(bucket, key))
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := tagGroup.Wait(); err != nil {
		g.logFailure(err)
		return nil, err
	}
	for i, key := range tagKeys {
		meta.Tags[key] = values[i]
	}
	return meta, nil
}

// RunQuery executes a compiled script and returns its result frames.
func (g *Gateway) RunQuery(ctx context.Context, sessionID, script string) (*QueryResult, error) {
	const op = "run_query"
	b, err := g.credential(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if script == "" {
		return nil, newError(KindValidation, op, "script is empty")
	}
	ds, err := g.datasource(ctx, b.Credential, op)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	res, err := g.query(ctx, b.Credential, op, ds, script)
	if err != nil {
		g.logFailure(err)
		return nil, err
	}
	return res, nil
}

const bucketsScript = `buckets()
  |> keep(columns: ["name"])`

func schemaScript(fn, bucket string) string {
	return fmt.Sprintf("import \"influxdata/influxdb/schema\"\nschema.%s(bucket: %s)", fn, fluxflow.QuoteString(bucket))
}

func tagValuesScript(bucket, tag string) string {
	return fmt.Sprintf("import \"influxdata/influxdb/schema\"\nschema.tagValues(bucket: %s, tag: %s)",
		fluxflow.QuoteString(bucket), fluxflow.QuoteString(tag))
}
