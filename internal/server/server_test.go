package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-dispatch/internal/common/config"
	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/dispatch"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/store"
)

type fakeSearcher struct {
	result     *dispatch.Result
	liveResult *dispatch.LiveResult
	err        error
	lastQuery  dispatch.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q dispatch.Query) (*dispatch.Result, error) {
	f.lastQuery = q
	return f.result, f.err
}

func (f *fakeSearcher) SearchLive(ctx context.Context, address string) (*dispatch.LiveResult, error) {
	return f.liveResult, f.err
}

type fakePrecalc struct {
	mu          sync.Mutex
	running     bool
	runs        int
	originRuns  []string
	agentRuns   []int
	runErr      error
	broadcaster *dispatch.Broadcaster
	started     chan struct{}
}

func newFakePrecalc() *fakePrecalc {
	return &fakePrecalc{
		broadcaster: dispatch.NewBroadcaster(),
		started:     make(chan struct{}, 1),
	}
}

func (f *fakePrecalc) Run(ctx context.Context) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}
	return f.runErr
}

func (f *fakePrecalc) RunForOrigin(ctx context.Context, code string) error {
	f.originRuns = append(f.originRuns, code)
	return f.runErr
}

func (f *fakePrecalc) RunForAgent(ctx context.Context, id int) error {
	f.agentRuns = append(f.agentRuns, id)
	return f.runErr
}

func (f *fakePrecalc) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePrecalc) Broadcaster() *dispatch.Broadcaster {
	return f.broadcaster
}

type fakePlaces struct {
	suggestions []maps.Suggestion
	place       *maps.PlaceResult
	err         error
}

func (f *fakePlaces) Autocomplete(ctx context.Context, input, session string) ([]maps.Suggestion, error) {
	return f.suggestions, f.err
}

func (f *fakePlaces) PlaceDetails(ctx context.Context, placeID, session string) (*maps.PlaceResult, error) {
	return f.place, f.err
}

type fakeSettingsManager struct {
	settings    store.Settings
	err         error
	lastChanges map[string]string
}

func (f *fakeSettingsManager) Get(ctx context.Context) (store.Settings, error) {
	return f.settings, f.err
}

func (f *fakeSettingsManager) Update(ctx context.Context, changes map[string]string) (store.Settings, error) {
	f.lastChanges = changes
	return f.settings, f.err
}

func testApp() config.AppConfig {
	return config.AppConfig{Name: "agent-dispatch", Version: "1.0.0", Environment: "test"}
}

func newTestServer(searcher *fakeSearcher, precalc *fakePrecalc, places *fakePlaces) *Server {
	return newTestServerWithSettings(searcher, precalc, places, &fakeSettingsManager{})
}

func newTestServerWithSettings(searcher *fakeSearcher, precalc *fakePrecalc, places *fakePlaces, settings *fakeSettingsManager) *Server {
	if searcher == nil {
		searcher = &fakeSearcher{}
	}
	if precalc == nil {
		precalc = newFakePrecalc()
	}
	if places == nil {
		places = &fakePlaces{}
	}
	return New(testApp(), searcher, precalc, places, settings, logger.NewNoOpLogger())
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "agent-dispatch", body["name"])
}

func TestServer_Search(t *testing.T) {
	searcher := &fakeSearcher{result: &dispatch.Result{
		Verdict:    dispatch.VerdictViable,
		OriginCode: "46001",
		Candidates: []dispatch.Candidate{{AgentID: 3, Name: "Ana", Rank: 1}},
	}}
	s := newTestServer(searcher, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/api/search", `{"query":"46001"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, dispatch.VerdictViable, result.Verdict)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "46001", searcher.lastQuery.Text)
}

func TestServer_Search_MissingQuery(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	w := doJSON(t, s, http.MethodPost, "/api/search", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Search_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "resolution failure", err: commonerrors.NewResolutionFailedError("x", nil), expected: http.StatusUnprocessableEntity},
		{name: "provider down", err: commonerrors.NewProviderUnavailableError(nil), expected: http.StatusBadGateway},
		{name: "leg unresolved", err: commonerrors.NewProviderLegFailedError("central office leg"), expected: http.StatusBadGateway},
		{name: "central time pending", err: commonerrors.NewPendingDataError("46001"), expected: http.StatusServiceUnavailable},
		{name: "invalid input", err: commonerrors.NewInvalidInputError("bad"), expected: http.StatusBadRequest},
		{name: "storage failure", err: commonerrors.NewQueryExecutionFailedError("q", assert.AnError), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeSearcher{err: tt.err}, nil, nil)
			w := doJSON(t, s, http.MethodPost, "/api/search", `{"query":"x"}`)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestServer_SearchLive(t *testing.T) {
	searcher := &fakeSearcher{liveResult: &dispatch.LiveResult{Viable: true}}
	s := newTestServer(searcher, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/api/search/live", `{"address":"Calle Colon 1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result dispatch.LiveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Viable)
}

func TestServer_Precalc_Accepted(t *testing.T) {
	precalc := newFakePrecalc()
	s := newTestServer(nil, precalc, nil)

	w := doJSON(t, s, http.MethodPost, "/api/precalc", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-precalc.started:
	case <-time.After(time.Second):
		t.Fatal("background run never started")
	}
}

func TestServer_Precalc_ConflictWhenRunning(t *testing.T) {
	precalc := newFakePrecalc()
	precalc.running = true
	s := newTestServer(nil, precalc, nil)

	w := doJSON(t, s, http.MethodPost, "/api/precalc", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, precalc.runs)
}

func TestServer_PrecalcOrigin(t *testing.T) {
	precalc := newFakePrecalc()
	s := newTestServer(nil, precalc, nil)

	w := doJSON(t, s, http.MethodPost, "/api/origins/46001/precalc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"46001"}, precalc.originRuns)
}

func TestServer_PrecalcAgent(t *testing.T) {
	precalc := newFakePrecalc()
	s := newTestServer(nil, precalc, nil)

	w := doJSON(t, s, http.MethodPost, "/api/agents/7/precalc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{7}, precalc.agentRuns)

	w = doJSON(t, s, http.MethodPost, "/api/agents/not-a-number/precalc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_PrecalcOrigin_UnknownMapsTo404(t *testing.T) {
	precalc := newFakePrecalc()
	precalc.runErr = commonerrors.NewUnknownOriginError("99999")
	s := newTestServer(nil, precalc, nil)

	w := doJSON(t, s, http.MethodPost, "/api/origins/99999/precalc", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ProgressStream(t *testing.T) {
	precalc := newFakePrecalc()
	s := newTestServer(nil, precalc, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/precalc/progress", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Keep publishing until the subscriber is registered and sees one.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				precalc.broadcaster.Publish(dispatch.Progress{Done: 3, Total: 10})
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for i := 0; i < 100 && !(sawEvent && sawData); i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "event:progress") {
			sawEvent = true
		}
		if strings.Contains(line, `"done":3`) && strings.Contains(line, `"total":10`) {
			sawData = true
		}
	}
	assert.True(t, sawEvent)
	assert.True(t, sawData)
}

func TestServer_GetSettings(t *testing.T) {
	settings := &fakeSettingsManager{settings: store.Settings{
		CentralAddress:           "Calle Colon 1, Valencia",
		CentralMaxMinutes:        100,
		ConflictThresholdMinutes: 5,
		SearchResultsCount:       3,
		RouteMaxMinutes:          30,
	}}
	s := newTestServerWithSettings(nil, nil, nil, settings)

	w := doJSON(t, s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Calle Colon 1, Valencia", body["centralAddress"])
	assert.Equal(t, float64(100), body["centralMaxMinutes"])
}

func TestServer_UpdateSettings(t *testing.T) {
	settings := &fakeSettingsManager{settings: store.Settings{CentralMaxMinutes: 120}}
	s := newTestServerWithSettings(nil, nil, nil, settings)

	w := doJSON(t, s, http.MethodPost, "/api/settings", `{"central_max_minutes":"120"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"central_max_minutes": "120"}, settings.lastChanges)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(120), body["centralMaxMinutes"])
}

func TestServer_UpdateSettings_UnknownKey(t *testing.T) {
	settings := &fakeSettingsManager{err: commonerrors.NewInvalidInputError(`unknown setting "favorite_color"`)}
	s := newTestServerWithSettings(nil, nil, nil, settings)

	w := doJSON(t, s, http.MethodPost, "/api/settings", `{"favorite_color":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Autocomplete(t *testing.T) {
	places := &fakePlaces{suggestions: []maps.Suggestion{
		{PlaceID: "abc", Description: "Calle Colon 1, Valencia"},
	}}
	s := newTestServer(nil, nil, places)

	w := doJSON(t, s, http.MethodGet, "/api/places/autocomplete?input=calle+colon", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Session     string            `json:"session"`
		Suggestions []maps.Suggestion `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Session)
	require.Len(t, body.Suggestions, 1)
	assert.Equal(t, "abc", body.Suggestions[0].PlaceID)

	w = doJSON(t, s, http.MethodGet, "/api/places/autocomplete", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_PlaceDetails(t *testing.T) {
	places := &fakePlaces{place: &maps.PlaceResult{
		FormattedAddress: "Calle Colon 1, Valencia",
		Lat:              39.47,
		Lng:              -0.38,
		PostalCode:       "46001",
	}}
	s := newTestServer(nil, nil, places)

	w := doJSON(t, s, http.MethodGet, "/api/places/abc", "")
	require.Equal(t, http.StatusOK, w.Code)

	var place maps.PlaceResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &place))
	assert.Equal(t, "46001", place.PostalCode)
}
