// Package chain reads inbound payments from a litecoinspace-style explorer
// API. It only ever observes addresses; nothing is signed or broadcast.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// ErrUnavailable marks transient feed failures (throttling, outages,
// network errors). Callers retry on the next tick.
var ErrUnavailable = errors.New("chain feed unavailable")

// Transfer is one movement touching a watched address. Value is in
// litoshis; Received is false for spends out of the address.
type Transfer struct {
	TxID          string
	Received      bool
	Value         int64
	Time          time.Time
	Confirmations int
}

// Amount converts the litoshi value to LTC.
func (t Transfer) Amount() decimal.Decimal {
	return decimal.New(t.Value, -8)
}

type addressTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		Prevout struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
}

type Client struct {
	rest *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest}
}

// AddressTransfers lists the recent movements on address, most recent
// first, as the explorer returns them.
func (c *Client) AddressTransfers(ctx context.Context, address string) ([]Transfer, error) {
	tip, err := c.tipHeight(ctx)
	if err != nil {
		return nil, err
	}

	var txs []addressTx
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&txs).
		Get("/address/" + address + "/txs")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	transfers := make([]Transfer, 0, len(txs))
	for _, tx := range txs {
		t, ok := transferFor(tx, address, tip)
		if !ok {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func (c *Client) tipHeight(ctx context.Context) (int64, error) {
	resp, err := c.rest.R().SetContext(ctx).Get("/blocks/tip/height")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkStatus(resp); err != nil {
		return 0, err
	}
	tip, err := strconv.ParseInt(strings.TrimSpace(resp.String()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return tip, nil
}

// transferFor reduces a raw transaction to the single movement it means for
// address: a spend if the address funds any input, otherwise the sum paid
// to the address across outputs.
func transferFor(tx addressTx, address string, tip int64) (Transfer, bool) {
	t := Transfer{TxID: tx.TxID}

	spent := false
	for _, in := range tx.Vin {
		if in.Prevout.Address == address {
			spent = true
			t.Value += in.Prevout.Value
		}
	}
	if !spent {
		for _, out := range tx.Vout {
			if out.Address == address {
				t.Received = true
				t.Value += out.Value
			}
		}
		if !t.Received {
			return Transfer{}, false
		}
	}

	if tx.Status.Confirmed {
		t.Time = time.Unix(tx.Status.BlockTime, 0).UTC()
		if tip >= tx.Status.BlockHeight {
			t.Confirmations = int(tip-tx.Status.BlockHeight) + 1
		}
	} else {
		t.Time = time.Now().UTC()
	}
	return t, true
}

func checkStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusOK:
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	default:
		return fmt.Errorf("chain feed: unexpected status %d", resp.StatusCode())
	}
}
