package snapshot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecodeBinanceDepth(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"lastUpdateId":100,"bids":[["99.50","1.2"]],"asks":[["99.60","2.3"]]}`)
	snap, err := DecodeBinanceDepth(raw)
	require.NoError(t, err)
	require.EqualValues(t, 100, snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	require.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("99.50")))
	require.True(t, snap.Asks[0].Qty.Equal(decimal.RequireFromString("2.3")))
}

func TestDecodeBinanceDepth_MalformedLevel(t *testing.T) {
	t.Parallel()
	_, err := DecodeBinanceDepth([]byte(`{"lastUpdateId":1,"bids":[["1"]],"asks":[]}`))
	require.Error(t, err)
}

