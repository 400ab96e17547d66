package dragonbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiRequest(
	t *testing.T,
	d *DragonBot,
	path string,
) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	handler := d.apiHandler(discardLogger())
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	handler.ServeHTTP(recorder, req)

	body := map[string]any{}
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	}
	return recorder, body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	d.startedAt = time.Now()

	recorder, body := apiRequest(t, d, "/health")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestUsageEndpoint(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	d.db = newTestDB(t)
	ledger := NewUsageLedger(d.db, 20, "", discardLogger())
	require.True(t, ledger.CheckAndConsume(context.Background(), testUserID))
	require.True(t, ledger.CheckAndConsume(context.Background(), testUserID))

	recorder, body := apiRequest(t, d, "/api/usage")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(20), body["daily_limit"])
}

func TestUsageEndpointWithoutDB(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	recorder, _ := apiRequest(t, d, "/api/usage")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	t.Parallel()

	d, _ := newTestBot(t)
	d.db = newTestDB(t)
	_, err := d.awardXP(context.Background(), testUserID, 450)
	require.NoError(t, err)

	recorder, body := apiRequest(t, d, "/api/leaderboard")
	assert.Equal(t, http.StatusOK, recorder.Code)

	entries, ok := body["leaderboard"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, testUserID, entry["user_id"])
	assert.Equal(t, float64(450), entry["xp"])
	assert.Equal(t, float64(2), entry["level"])
}
