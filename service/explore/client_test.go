package explore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchExplore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/explore", r.URL.Path)
		w.Write([]byte(`{"contracts":[
			{"address":"KT1RJ6PbjHpwc3M5rw5s2Nbmefwbuwbdxton","name":"hic et nunc","thumbnailUrl":"https://img/hen.png","mintingTool":"hen"},
			{"name":"no address"}
		]}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(upstream.New(upstream.Options{Service: "explore", BaseURL: srv.URL}, nil, logger), logger)
	require.True(t, c.Enabled())

	idx, err := c.FetchExplore(context.Background())
	require.NoError(t, err)
	require.Len(t, idx, 1)

	col, ok := idx.Lookup("kt1rj6pbjhpwc3m5rw5s2nbmefwbuwbdxton")
	require.True(t, ok)
	assert.Equal(t, "hic et nunc", col.Name)
	assert.Equal(t, "hen", col.MintingTool)

	_, ok = idx.Lookup("KT1missing")
	assert.False(t, ok)
}

func TestFetchExplore_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, c := range []*Client{
		NewClient(nil, logger),
		NewClient(upstream.New(upstream.Options{Service: "explore"}, nil, logger), logger),
	} {
		assert.False(t, c.Enabled())
		idx, err := c.FetchExplore(context.Background())
		require.NoError(t, err)
		assert.Empty(t, idx)
	}
}
