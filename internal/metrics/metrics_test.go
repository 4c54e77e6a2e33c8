package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats"
)

func TestSnapshot(t *testing.T) {
	require.NoError(t, Register())
	defer Unregister()

	ctx := context.Background()
	RecordResult(ctx, CounterDownloads, ResultOK)
	RecordResult(ctx, CounterDownloads, ResultOK)
	RecordResult(ctx, CounterDownloads, ResultFailed)
	stats.Record(ctx, CounterUpdatesFound.M(3))

	snapshot := Snapshot()
	require.Len(t, snapshot["downloads"], 2)
	total := 0.0
	for _, row := range snapshot["downloads"] {
		total += row.Value
		require.Contains(t, []string{ResultOK, ResultFailed}, row.Tags["result"])
	}
	require.Equal(t, 3.0, total)
	require.Len(t, snapshot["updates_found"], 1)
	require.Equal(t, 3.0, snapshot["updates_found"][0].Value)
	require.Empty(t, snapshot["integrity_failures"])
}
