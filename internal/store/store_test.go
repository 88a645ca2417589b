package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_SaveAndList(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	first, err := h.Save(ctx, Entry{
		UserID:    "u1",
		ScanType:  "url",
		Target:    "http://evil.test/login",
		Result:    json.RawMessage(`{"label":"phishing","score":85}`),
		RiskScore: 85,
		RiskLabel: "phishing",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := h.Save(ctx, Entry{
		UserID:    "u1",
		ScanType:  "qr",
		Target:    "menu.png",
		RiskScore: 0,
		RiskLabel: "safe",
		CreatedAt: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	entries, err := h.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first
	assert.Equal(t, second, entries[0].ID)
	assert.Equal(t, first, entries[1].ID)
	assert.Equal(t, "phishing", entries[1].RiskLabel)
	assert.JSONEq(t, `{"label":"phishing","score":85}`, string(entries[1].Result))
	assert.JSONEq(t, `{}`, string(entries[0].Result))
}

func TestHistory_ListByUser_ScopedToUser(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	_, err := h.Save(ctx, Entry{UserID: "u1", ScanType: "url", Target: "http://a.test/", RiskLabel: "safe"})
	require.NoError(t, err)
	_, err = h.Save(ctx, Entry{UserID: "u2", ScanType: "url", Target: "http://b.test/", RiskLabel: "safe"})
	require.NoError(t, err)

	entries, err := h.ListByUser(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "http://b.test/", entries[0].Target)
}

func TestHistory_ListByUser_Limit(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.Save(ctx, Entry{
			UserID:    "u1",
			ScanType:  "url",
			Target:    "http://a.test/",
			RiskLabel: "safe",
			CreatedAt: time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	entries, err := h.ListByUser(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := Open(path, nil)
	require.NoError(t, err)
	_, err = h.Save(context.Background(), Entry{UserID: "u1", ScanType: "email", Target: "inbox", RiskLabel: "suspicious"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h2, err := Open(path, nil)
	require.NoError(t, err)
	defer h2.Close()

	entries, err := h2.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
