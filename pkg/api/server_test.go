package api_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-run/synod/pkg/api"
	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/database"
	"github.com/synod-run/synod/pkg/dispatcher"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/pipeline"
	"github.com/synod-run/synod/pkg/store"
	"github.com/synod-run/synod/pkg/upstream"
	"github.com/synod-run/synod/test/dbtest"
)

func newScriptedUpstream(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content, ok := responses[req.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *ledger.Ledger) {
	t.Helper()
	t.Setenv("TEST_KEY", "secret")

	mode := &config.ModeConfig{
		Name: config.ModeQuick, CreditCost: 1,
		CouncilModels: []string{"m1"}, ChairmanModel: "mod",
	}
	upstreamSrv := newScriptedUpstream(t, map[string]string{
		"m1":  "Raft looks right.",
		"mod": "Based on the analysis, the panel recommends adopting Raft.",
	})

	providers := map[string]*config.LLMProviderConfig{
		"m1":  {ID: "m1", BaseURL: upstreamSrv.URL, Model: "m1", APIKeyEnv: "TEST_KEY"},
		"mod": {ID: "mod", BaseURL: upstreamSrv.URL, Model: "mod", APIKeyEnv: "TEST_KEY"},
	}
	cfg := &config.Config{
		Modes:        map[config.ModeName]*config.ModeConfig{mode.Name: mode},
		LLMProviders: providers,
		HTTP:         config.HTTPConfig{Port: "0", GinMode: gin.TestMode},
	}

	db := dbtest.Setup(t)
	st := store.New(db)
	lg := ledger.New(db)
	client := upstream.NewClient(cfg)
	sched := pipeline.New(cfg, client, st, lg)
	d := dispatcher.New(cfg, st, lg, sched)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	server := api.NewServer(d, st, cfg, database.NewClientFromDB(db))
	server.RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)
	return httpSrv, st, lg
}

func readSSEEvents(t *testing.T, body *http.Response) []map[string]any {
	t.Helper()
	defer body.Body.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(body.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

func TestSubmitMessageStreamsEventsAndCommits(t *testing.T) {
	srv, st, lg := newTestServer(t)
	owner := uuid.New()
	ctx := t.Context()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 5)
	require.NoError(t, err)

	reqBody, _ := json.Marshal(map[string]string{"question": "should we adopt Raft?", "mode": string(config.ModeQuick)})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/deliberations/new/message/stream", bytes.NewReader(reqBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal-ID", owner.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSEEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1]["type"])

	deliberations, total, err := st.ListByOwner(ctx, owner, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, deliberations, 1)

	answer, err := st.GetLatestAnswer(ctx, deliberations[0].ID)
	require.NoError(t, err)
	assert.Contains(t, answer.Stage3.Response, "Raft")
}

func TestSubmitMessageWithoutPrincipalHeaderIsUnauthorized(t *testing.T) {
	srv, _, _ := newTestServer(t)

	reqBody, _ := json.Marshal(map[string]string{"question": "hi", "mode": string(config.ModeQuick)})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/deliberations/new/message/stream", bytes.NewReader(reqBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusReturnsOrphanedAfterManualAppend(t *testing.T) {
	srv, st, lg := newTestServer(t)
	owner := uuid.New()
	ctx := t.Context()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 5)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)
	_, err = st.AppendQuestion(ctx, deliberation.ID, "orphaned", string(config.ModeQuick), false, "", nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/deliberations/"+deliberation.ID.String()+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Principal-ID", owner.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["orphaned"])
}

func TestStatusForAnotherOwnersDeliberationIsNotFound(t *testing.T) {
	srv, st, lg := newTestServer(t)
	owner := uuid.New()
	intruder := uuid.New()
	ctx := t.Context()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 5)
	require.NoError(t, err)
	_, err = lg.EnsurePrincipal(ctx, intruder, models.PrincipalStandard, 5)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/deliberations/"+deliberation.ID.String()+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Principal-ID", intruder.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthReportsDatabaseStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRetryMessageDeletesOrphanAndResubmits(t *testing.T) {
	srv, st, lg := newTestServer(t)
	owner := uuid.New()
	ctx := t.Context()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 5)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)
	orphan, err := st.AppendQuestion(ctx, deliberation.ID, "retry me", string(config.ModeQuick), false, "", nil)
	require.NoError(t, err)

	reqBody, _ := json.Marshal(map[string]string{"mode": string(config.ModeQuick)})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/messages/"+orphan.ID.String()+"/retry", bytes.NewReader(reqBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal-ID", owner.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSEEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1]["type"])

	_, err = st.GetMessageByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMessageRemovesOrphan(t *testing.T) {
	srv, st, lg := newTestServer(t)
	owner := uuid.New()
	ctx := t.Context()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 5)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)
	orphan, err := st.AppendQuestion(ctx, deliberation.ID, "discard me", string(config.ModeQuick), false, "", nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/messages/"+orphan.ID.String(), nil)
	require.NoError(t, err)
	req.Header.Set("X-Principal-ID", owner.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = st.GetMessageByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
