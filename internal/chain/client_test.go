package chain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, tip int64, txsJSON string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d", tip)
	})
	mux.HandleFunc("/address/{addr}/txs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, txsJSON)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAddressTransfersReceived(t *testing.T) {
	srv := newTestServer(t, 1000, `[
		{
			"txid": "tx-in",
			"vin": [{"prevout": {"scriptpubkey_address": "someone-else", "value": 60000000}}],
			"vout": [
				{"scriptpubkey_address": "watched", "value": 50000000},
				{"scriptpubkey_address": "change", "value": 9000000}
			],
			"status": {"confirmed": true, "block_height": 998, "block_time": 1700000000}
		}
	]`)

	c := NewClient(srv.URL, 5*time.Second)
	transfers, err := c.AddressTransfers(context.Background(), "watched")
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	got := transfers[0]
	assert.Equal(t, "tx-in", got.TxID)
	assert.True(t, got.Received)
	assert.Equal(t, int64(50000000), got.Value)
	assert.Equal(t, "0.5", got.Amount().String())
	assert.Equal(t, 3, got.Confirmations, "tip 1000 - height 998 + 1")
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.Time)
}

func TestAddressTransfersSpendIsNotReceived(t *testing.T) {
	srv := newTestServer(t, 1000, `[
		{
			"txid": "tx-out",
			"vin": [{"prevout": {"scriptpubkey_address": "watched", "value": 50000000}}],
			"vout": [{"scriptpubkey_address": "watched", "value": 10000000}],
			"status": {"confirmed": true, "block_height": 999, "block_time": 1700000000}
		}
	]`)

	c := NewClient(srv.URL, 5*time.Second)
	transfers, err := c.AddressTransfers(context.Background(), "watched")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.False(t, transfers[0].Received, "funding an input makes the tx a spend, change or not")
}

func TestAddressTransfersSumsMultipleOutputs(t *testing.T) {
	srv := newTestServer(t, 1000, `[
		{
			"txid": "tx-split",
			"vin": [{"prevout": {"scriptpubkey_address": "payer", "value": 100000000}}],
			"vout": [
				{"scriptpubkey_address": "watched", "value": 30000000},
				{"scriptpubkey_address": "watched", "value": 20000000}
			],
			"status": {"confirmed": true, "block_height": 1000, "block_time": 1700000000}
		}
	]`)

	c := NewClient(srv.URL, 5*time.Second)
	transfers, err := c.AddressTransfers(context.Background(), "watched")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(50000000), transfers[0].Value)
	assert.Equal(t, 1, transfers[0].Confirmations)
}

func TestAddressTransfersSkipsUnrelated(t *testing.T) {
	srv := newTestServer(t, 1000, `[
		{
			"txid": "tx-other",
			"vin": [{"prevout": {"scriptpubkey_address": "a", "value": 1}}],
			"vout": [{"scriptpubkey_address": "b", "value": 1}],
			"status": {"confirmed": true, "block_height": 1000, "block_time": 1700000000}
		}
	]`)

	c := NewClient(srv.URL, 5*time.Second)
	transfers, err := c.AddressTransfers(context.Background(), "watched")
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestAddressTransfersUnconfirmed(t *testing.T) {
	srv := newTestServer(t, 1000, `[
		{
			"txid": "tx-mempool",
			"vin": [{"prevout": {"scriptpubkey_address": "payer", "value": 60000000}}],
			"vout": [{"scriptpubkey_address": "watched", "value": 50000000}],
			"status": {"confirmed": false}
		}
	]`)

	c := NewClient(srv.URL, 5*time.Second)
	transfers, err := c.AddressTransfers(context.Background(), "watched")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Zero(t, transfers[0].Confirmations)
	assert.WithinDuration(t, time.Now().UTC(), transfers[0].Time, 5*time.Second,
		"mempool txs count as just now")
}

func TestThrottlingMapsToErrUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.AddressTransfers(context.Background(), "watched")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestServerErrorMapsToErrUnavailable(t *testing.T) {
	tip := true
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if tip {
			tip = false
			fmt.Fprint(w, "1000")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.AddressTransfers(context.Background(), "watched")
	assert.ErrorIs(t, err, ErrUnavailable)
}
