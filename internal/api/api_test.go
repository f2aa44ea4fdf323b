package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/last-emo-boy/statuswatch/internal/logstore"
	"github.com/last-emo-boy/statuswatch/internal/probe"
	"github.com/last-emo-boy/statuswatch/internal/scheduler"
)

func newTestServer(t *testing.T) (*httptest.Server, *logstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := logstore.Open(":memory:", 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := scheduler.New([]scheduler.Check{
		{ID: 1, Desc: "a", Checker: &fixedChecker{}, MinCheckInterval: time.Hour},
	})
	sched.Step()
	var buf []scheduler.LogEntry
	sched.ReadLogs(&buf)

	r := gin.New()
	New(sched, store).Register(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

type fixedChecker struct{}

func (f *fixedChecker) Check() probe.Result { return probe.Result{Type: probe.Up} }

func TestAPI_LatestResults(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []*probe.Result `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	require.Equal(t, probe.Up, body.Results[0].Type)
}

func TestAPI_CheckLogsRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.AddLogAndPush(5, time.UnixMilli(1000), probe.Result{Type: probe.Warn, Info: "slow"}, nil)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/checks/5/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []struct {
			Result probe.Result `json:"result"`
		} `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, probe.Warn, body.Entries[0].Result.Type)
}

func TestAPI_CheckCount(t *testing.T) {
	srv, store := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := store.AddLogAndPush(5, time.UnixMilli(int64(i*100)), probe.Result{Type: probe.Up}, nil)
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/checks/5/count")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var counts logstore.LogCounts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	require.Equal(t, uint64(3), counts.NumUp)
}

func TestAPI_CheckLogs_RejectsNonNumericID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/checks/not-a-number/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UpdateSubscriptions(t *testing.T) {
	srv, store := newTestServer(t)

	auth := base64.RawURLEncoding.EncodeToString(make([]byte, 16))
	p256dh := base64.RawURLEncoding.EncodeToString(make([]byte, 65))
	body := `{"endpoint":"https://push.example/1","auth":"` + auth + `","p256dh":"` + p256dh +
		`","checks":[{"check_id":5,"notify_warn":true}]}`

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/subscriptions", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var called bool
	_, err = store.AddLogAndPush(5, time.UnixMilli(1000), probe.Result{Type: probe.Error}, func(string, []byte, []byte) {
		called = true
	})
	require.NoError(t, err)
	require.True(t, called, "the subscription just registered should receive the push")
}

func TestAPI_UpdateSubscriptions_RejectsBadAuthLength(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"endpoint":"https://push.example/1","auth":"dG9vc2hvcnQ","p256dh":"` +
		base64.RawURLEncoding.EncodeToString(make([]byte, 65)) + `","checks":[]}`

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/subscriptions", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
