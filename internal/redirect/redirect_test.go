package redirect

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

func TestFollow_SingleHop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	chain := NewFollower(10, time.Second).Follow(context.Background(), srv.URL)

	require.Len(t, chain.Hops, 1)
	assert.Equal(t, http.StatusOK, chain.Hops[0].Status)
	// Hop URLs are recorded exactly as requested, without path normalization
	assert.Equal(t, srv.URL, chain.Hops[0].URL)
	assert.Equal(t, srv.URL, chain.Final())
}

func TestFollow_RelativeRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("done"))
	})

	chain := NewFollower(10, time.Second).Follow(context.Background(), srv.URL+"/start")

	require.Len(t, chain.Hops, 3)
	assert.Equal(t, http.StatusFound, chain.Hops[0].Status)
	assert.Equal(t, http.StatusMovedPermanently, chain.Hops[1].Status)
	assert.Equal(t, http.StatusOK, chain.Hops[2].Status)
	assert.Equal(t, srv.URL+"/end", chain.Final())
}

func TestFollow_HopCap(t *testing.T) {
	var srv *httptest.Server
	hop := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("/loop%d", hop), http.StatusFound)
	}))
	defer srv.Close()

	chain := NewFollower(3, time.Second).Follow(context.Background(), srv.URL)

	assert.Len(t, chain.Hops, 3)
	for _, h := range chain.Hops {
		assert.Equal(t, http.StatusFound, h.Status)
	}
}

func TestFollow_SchemelessURL(t *testing.T) {
	chain := NewFollower(10, 100*time.Millisecond).Follow(context.Background(), "doesnotresolve.invalid")

	require.Len(t, chain.Hops, 1)
	assert.NotEmpty(t, chain.Hops[0].Error)
	assert.Equal(t, "", chain.Final())
}

func TestFollow_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	chain := NewFollower(10, 50*time.Millisecond).Follow(context.Background(), srv.URL)

	require.Len(t, chain.Hops, 1)
	assert.Equal(t, http.StatusRequestTimeout, chain.Hops[0].Status)
	assert.Equal(t, "timeout", chain.Hops[0].Error)
}

func TestFollow_MissingLocationStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound) // 302 with no Location
	}))
	defer srv.Close()

	chain := NewFollower(10, time.Second).Follow(context.Background(), srv.URL)

	require.Len(t, chain.Hops, 1)
	assert.Equal(t, http.StatusFound, chain.Hops[0].Status)
}
