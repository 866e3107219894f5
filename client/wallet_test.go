package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress = "tz1VSUr8wwNhLAzempoch5d6hLRiTh8Cjcjb"
	testOpHash  = "ooYsM2AWrhYz3h9aBk7D3gYkUoN4MZwL6uTdBmbAFJEtWQWu1Yc"
)

func writeTestJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetAccount_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress, r.URL.Path)
		assert.Equal(t, "eur", r.URL.Query().Get("currency"))

		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"account": map[string]interface{}{
				"wallet_address": testAddress,
				"xtz_balance":    map[string]interface{}{"raw": "10000000", "decimals": 6},
			},
			"estimated_total_xtz":  "12.5",
			"estimated_total_fiat": "6.25",
			"currency":             "eur",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	snap, err := c.GetAccount(context.Background(), testAddress, "eur")
	require.NoError(t, err)
	assert.Equal(t, testAddress, snap.Account.WalletAddress)
	assert.True(t, decimal.RequireFromString("12.5").Equal(snap.EstimatedTotalXTZ))
	require.NotNil(t, snap.EstimatedTotalFiat)
	assert.True(t, decimal.RequireFromString("6.25").Equal(*snap.EstimatedTotalFiat))
	assert.Equal(t, "eur", snap.Currency)
}

func TestGetAccount_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusNotFound, map[string]string{"error": "account not cached"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	snap, err := c.GetAccount(context.Background(), testAddress, "")
	require.Error(t, err)
	assert.Nil(t, snap)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "account not cached", apiErr.Message)
}

func TestRefresh_PassesType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/refresh", r.URL.Path)
		assert.Equal(t, string(tezos.RefreshEverything), r.URL.Query().Get("type"))

		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"account":             map[string]interface{}{"wallet_address": testAddress},
			"estimated_total_xtz": "1",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	snap, err := c.Refresh(context.Background(), testAddress, tezos.RefreshEverything)
	require.NoError(t, err)
	assert.Equal(t, testAddress, snap.Account.WalletAddress)
}

func TestRefresh_PartialFailureReturnsSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusBadGateway, map[string]interface{}{
			"account":             map[string]interface{}{"wallet_address": testAddress, "xtz_balance": map[string]interface{}{"raw": "3000000", "decimals": 6}},
			"estimated_total_xtz": "3",
			"error":               "fetch balances: upstream unavailable",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	snap, err := c.Refresh(context.Background(), testAddress, "")
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testAddress, snap.Account.WalletAddress)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream unavailable")
}

func TestRefresh_FailureWithoutSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	snap, err := c.Refresh(context.Background(), testAddress, "")
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestTransactions_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/transactions", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))

		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"groups": []map[string]interface{}{
				{"id": 1, "hash": testOpHash, "status": "unconfirmed"},
				{"id": 2, "hash": "ooOther", "status": "applied"},
			},
			"count":   2,
			"pending": 1,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	list, err := c.Transactions(context.Background(), testAddress, true)
	require.NoError(t, err)
	require.Len(t, list.Groups, 2)
	assert.Equal(t, 1, list.Pending)
	assert.Equal(t, tezos.StatusUnconfirmed, list.Groups[0].Status)
}

func TestAddPending_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/pending", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testOpHash, body["op_hash"])
		legs, ok := body["legs"].([]interface{})
		require.True(t, ok)
		assert.Len(t, legs, 2)

		writeTestJSON(t, w, http.StatusCreated, map[string]interface{}{"op_hash": testOpHash, "recorded": true})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.AddPending(context.Background(), testAddress, PendingOperation{
		OpHash: testOpHash,
		Legs: []PendingLeg{
			{Type: tezos.SubTypeSend, Destination: tezos.Alias{Address: "tz1aSkwEot3L2kmUvcoxzjMomb9mvBNuzFK6"}, XTZAmount: "1.5"},
			{Type: tezos.SubTypeDelegate, Destination: tezos.Alias{Address: "tz1aSkwEot3L2kmUvcoxzjMomb9mvBNuzFK6"}},
		},
	})
	require.NoError(t, err)
}

func TestAddPending_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusBadRequest, map[string]string{"error": "invalid op hash"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.AddPending(context.Background(), testAddress, PendingOperation{OpHash: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid op hash")
}

func TestPendingAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pending", r.URL.Path)
		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{"addresses": []string{testAddress}, "count": 1})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	addrs, err := c.PendingAddresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, addrs)
}

func TestRegister_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAddress, body["address"])
		assert.Equal(t, "main", body["label"])
		assert.Equal(t, "1m0s", body["refresh_interval"])

		writeTestJSON(t, w, http.StatusCreated, body)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	require.NoError(t, c.Register(context.Background(), testAddress, "main", time.Minute))
}

func TestRegister_AlreadyTracked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusOK, map[string]string{"address": testAddress})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	assert.NoError(t, c.Register(context.Background(), testAddress, "", 0))
}

func TestRegister_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusInternalServerError, map[string]string{"error": "failed to create refresh schedule"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.Register(context.Background(), testAddress, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create refresh schedule")
}

func TestUnregister_Purge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/wallets/"+testAddress, r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("purge"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	require.NoError(t, c.Unregister(context.Background(), testAddress, true))
}

func TestUnregister_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusNotFound, map[string]string{"error": "wallet not found"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.Unregister(context.Background(), testAddress, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
}

func TestWalletsAndSelect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/api/v1/wallets":
			writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
				"wallets":  []map[string]string{{"address": testAddress, "label": "main"}},
				"selected": testAddress,
			})
		case r.Method == "POST" && r.URL.Path == "/api/v1/wallets/select":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, testAddress, body["address"])
			writeTestJSON(t, w, http.StatusOK, map[string]string{"selected": testAddress})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	list, err := c.Wallets(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Wallets, 1)
	assert.Equal(t, "main", list.Wallets[0].Label)
	assert.Equal(t, testAddress, list.Selected)

	require.NoError(t, c.Select(context.Background(), testAddress))
}

func TestSetTokenPreference_OmitsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"hidden":true}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hidden := true
	c := NewClient(server.URL, nil, nil)
	require.NoError(t, c.SetTokenPreference(context.Background(), "KT1K9gCRgaLRFKTErYt1wVxA3Frb9FjasjTV:0", &hidden, nil))
}

func TestHealth_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "down", apiErr.Message)
}

// awaitServer serves pendingPolls responses with opHash pending, then final.
func awaitServer(t *testing.T, pendingPolls int32, final map[string]interface{}) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		if n <= pendingPolls {
			writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
				"groups":  []map[string]interface{}{{"id": 1, "hash": testOpHash, "status": "unconfirmed"}},
				"count":   1,
				"pending": 1,
			})
			return
		}
		writeTestJSON(t, w, http.StatusOK, final)
	}))
	return server, &polls
}

func TestClient_Await_Confirmed(t *testing.T) {
	server, polls := awaitServer(t, 2, map[string]interface{}{
		"groups":  []map[string]interface{}{{"id": 7, "hash": testOpHash, "status": "applied"}},
		"count":   1,
		"pending": 0,
	})
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	group, err := c.Await(context.Background(), testAddress, testOpHash, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, int64(7), group.ID)
	assert.Equal(t, int32(3), polls.Load())
}

func TestClient_Await_Failed(t *testing.T) {
	server, _ := awaitServer(t, 1, map[string]interface{}{
		"groups":  []map[string]interface{}{{"id": 7, "hash": testOpHash, "status": "backtracked"}},
		"count":   1,
		"pending": 0,
	})
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	group, err := c.Await(context.Background(), testAddress, testOpHash, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrOperationFailed)
	require.NotNil(t, group)
	assert.Equal(t, tezos.StatusBacktracked, group.Status)
}

func TestClient_Await_Dropped(t *testing.T) {
	server, _ := awaitServer(t, 1, map[string]interface{}{
		"groups":  []map[string]interface{}{},
		"count":   0,
		"pending": 0,
	})
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	_, err := c.Await(context.Background(), testAddress, testOpHash, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrPendingDropped)
}

func TestClient_Await_ContextCancelled(t *testing.T) {
	server, _ := awaitServer(t, 1000, nil)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(server.URL, nil, nil)
	start := time.Now()
	_, err := c.Await(ctx, testAddress, testOpHash, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_Await_RetriesPollErrors(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			writeTestJSON(t, w, http.StatusBadGateway, map[string]string{"error": "failed to fetch transaction history"})
			return
		}
		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"groups":  []map[string]interface{}{{"id": 3, "hash": testOpHash, "status": "applied"}},
			"count":   1,
			"pending": 0,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	group, err := c.Await(context.Background(), testAddress, testOpHash, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(3), group.ID)
}
