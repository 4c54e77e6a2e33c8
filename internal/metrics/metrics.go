package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterReleaseCacheHit   = stats.Int64("release_cache_hits", "Number of release cache hits", "1")
	CounterReleaseCacheMiss  = stats.Int64("release_cache_misses", "Number of release cache misses", "1")
	CounterUpdatesFound      = stats.Int64("updates_found", "Number of addon updates found", "1")
	CounterDownloads         = stats.Int64("downloads", "Number of update downloads", "1")
	CounterIntegrityFailures = stats.Int64("integrity_failures", "Number of downloads rejected by digest verification", "1")
	CounterCatalogLoads      = stats.Int64("catalog_loads", "Number of catalog loads", "1")
	CounterResponseCacheHit  = stats.Int64("response_cache_hits", "Number of API response cache hits", "1")
	CounterResponseCacheMiss = stats.Int64("response_cache_misses", "Number of API response cache misses", "1")

	TagResult   = tag.MustNewKey("result")
	TagCacheKey = tag.MustNewKey("cache_key")
)

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

var Views = []*view.View{
	{
		Name:        "release_cache_hits",
		Measure:     CounterReleaseCacheHit,
		Description: "Number of release cache hits",
		Aggregation: view.Count(),
	},
	{
		Name:        "release_cache_misses",
		Measure:     CounterReleaseCacheMiss,
		Description: "Number of release cache misses",
		Aggregation: view.Count(),
	},
	{
		Name:        "updates_found",
		Measure:     CounterUpdatesFound,
		Description: "Number of addon updates found",
		Aggregation: view.Sum(),
	},
	{
		Name:        "downloads",
		Measure:     CounterDownloads,
		Description: "Number of update downloads",
		TagKeys:     []tag.Key{TagResult},
		Aggregation: view.Count(),
	},
	{
		Name:        "integrity_failures",
		Measure:     CounterIntegrityFailures,
		Description: "Number of downloads rejected by digest verification",
		Aggregation: view.Count(),
	},
	{
		Name:        "catalog_loads",
		Measure:     CounterCatalogLoads,
		Description: "Number of catalog loads",
		TagKeys:     []tag.Key{TagResult},
		Aggregation: view.Count(),
	},
	{
		Name:        "response_cache_hits",
		Measure:     CounterResponseCacheHit,
		Description: "Number of API response cache hits",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
	{
		Name:        "response_cache_misses",
		Measure:     CounterResponseCacheMiss,
		Description: "Number of API response cache misses",
		TagKeys:     []tag.Key{TagCacheKey},
		Aggregation: view.Count(),
	},
}

func Register() error {
	return view.Register(Views...)
}

func Unregister() {
	view.Unregister(Views...)
}

// RecordResult records m once, tagged with the given result.
func RecordResult(ctx context.Context, m *stats.Int64Measure, result string) {
	ctx, _ = tag.New(ctx, tag.Upsert(TagResult, result))
	stats.Record(ctx, m.M(1))
}

type Row struct {
	Tags  map[string]string `json:"tags,omitempty"`
	Value float64           `json:"value"`
}

// Snapshot returns the current aggregated value of every registered view.
func Snapshot() map[string][]Row {
	ret := make(map[string][]Row)
	for _, v := range Views {
		rows, err := view.RetrieveData(v.Name)
		if err != nil {
			continue
		}
		viewRows := make([]Row, 0, len(rows))
		for _, r := range rows {
			row := Row{}
			if len(r.Tags) > 0 {
				row.Tags = make(map[string]string, len(r.Tags))
				for _, t := range r.Tags {
					row.Tags[t.Key.Name()] = t.Value
				}
			}
			switch d := r.Data.(type) {
			case *view.CountData:
				row.Value = float64(d.Value)
			case *view.SumData:
				row.Value = d.Value
			}
			viewRows = append(viewRows, row)
		}
		ret[v.Name] = viewRows
	}
	return ret
}
