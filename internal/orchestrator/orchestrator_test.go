package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microbook/internal/config"
	"microbook/internal/logging"
	"microbook/internal/observer"
	"microbook/internal/wire"
)

func testConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestNew_WiresAllComponentsWithoutPanicking(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, logging.Get(), observer.NewRecorder())

	require.NotNil(t, p.reconciler)
	require.NotNil(t, p.iceberg)
	require.NotNil(t, p.liquidity)
	require.NotNil(t, p.metrics)
	require.NotNil(t, p.feed)
	require.NotNil(t, p.HTTPHandler())
}

func TestNew_HTTPDisabledYieldsNilHandler(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Enabled = false
	p := New(cfg, logging.Get(), observer.NewRecorder())
	require.Nil(t, p.HTTPHandler())
}

func TestSnapshotSink_RefreshesMetrics(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, logging.Get(), observer.NewRecorder())

	sink := snapshotSink{reconciler: p.reconciler, metrics: p.metrics}
	sink.ApplySnapshot(wire.BookDiff{
		LastUpdateID: 1,
		Bids:         []wire.PriceLevel{{Price: 100, Volume: 1}},
		Asks:         []wire.PriceLevel{{Price: 101, Volume: 1}},
	})

	snap := p.metrics.Latest()
	require.Equal(t, 100.0, snap.BestBid)
	require.Equal(t, 101.0, snap.BestAsk)
	require.Equal(t, 1.0, snap.Spread)
}

func TestPipeline_ShutdownBeforeStartIsSafe(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, logging.Get(), observer.NewRecorder())
	require.NotPanics(t, p.Shutdown)
}
