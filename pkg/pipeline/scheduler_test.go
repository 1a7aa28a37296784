package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/store"
	"github.com/synod-run/synod/pkg/upstream"
	"github.com/synod-run/synod/test/dbtest"
)

// scripted content by model id, keyed by provider id; a missing key fails
// the request with a 500 so tests can script per-endpoint failure.
type scriptedServer struct {
	*httptest.Server
	responses map[string]string
}

func newScriptedServer(t *testing.T, responses map[string]string) *scriptedServer {
	t.Helper()
	s := &scriptedServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content, ok := s.responses[req.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func testConfig(srv *httptest.Server, mode *config.ModeConfig) *config.Config {
	providers := map[string]*config.LLMProviderConfig{}
	for _, m := range mode.CouncilModels {
		providers[m] = &config.LLMProviderConfig{ID: m, BaseURL: srv.URL, Model: m, APIKeyEnv: "TEST_KEY"}
	}
	providers[mode.ChairmanModel] = &config.LLMProviderConfig{ID: mode.ChairmanModel, BaseURL: srv.URL, Model: mode.ChairmanModel, APIKeyEnv: "TEST_KEY"}

	return &config.Config{
		LLMProviders: providers,
		Modes:        map[config.ModeName]*config.ModeConfig{mode.Name: mode},
	}
}

func newTestScheduler(t *testing.T, cfg *config.Config) (*Scheduler, *store.Store, *ledger.Ledger) {
	t.Helper()
	t.Setenv("TEST_KEY", "secret")
	db := dbtest.Setup(t)
	st := store.New(db)
	lg := ledger.New(db)
	client := upstream.NewClient(cfg)
	return New(cfg, client, st, lg), st, lg
}

func drain(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out waiting for scheduler to finish")
		}
	}
}

func lastEventType(events []Event) EventType {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Type
}

func TestSchedulerQuickModeHappyPath(t *testing.T) {
	mode := &config.ModeConfig{
		Name: config.ModeQuick, CreditCost: 1,
		CouncilModels: []string{"m1", "m2"}, ChairmanModel: "mod",
		EnablePeerReview: false, EnableCrossReview: false,
	}
	srv := newScriptedServer(t, map[string]string{
		"m1":  "I think we should adopt Raft for consensus.",
		"m2":  "I lean towards Paxos for this workload.",
		"mod": "Based on the analysis, the panel recommends adopting Raft for its operational simplicity.",
	})
	cfg := testConfig(srv.Server, mode)
	sched, st, lg := newTestScheduler(t, cfg)

	ctx := context.Background()
	owner := uuid.New()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 10)
	require.NoError(t, err)
	_, err = lg.Reserve(ctx, owner, mode.CreditCost)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)

	events := sched.Run(ctx, RunInput{
		DeliberationID: deliberation.ID,
		PrincipalID:    owner,
		Question:       "should we adopt a distributed consensus protocol for our storage layer?",
		Mode:           config.ModeQuick,
	})

	got := drain(t, events, 5*time.Second)
	assert.Equal(t, EventComplete, lastEventType(got))

	answer, err := st.GetLatestAnswer(ctx, deliberation.ID)
	require.NoError(t, err)
	assert.Contains(t, answer.Stage3.Response, "Raft")
	assert.False(t, answer.Stage3.EchoDetected)

	balance, err := lg.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 9, balance)
}

func TestSchedulerAllEndpointsFailedRefunds(t *testing.T) {
	mode := &config.ModeConfig{
		Name: config.ModeQuick, CreditCost: 2,
		CouncilModels: []string{"m1"}, ChairmanModel: "mod",
	}
	srv := newScriptedServer(t, map[string]string{}) // every call 500s
	cfg := testConfig(srv.Server, mode)
	sched, st, lg := newTestScheduler(t, cfg)

	ctx := context.Background()
	owner := uuid.New()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 10)
	require.NoError(t, err)
	_, err = lg.Reserve(ctx, owner, mode.CreditCost)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)

	events := sched.Run(ctx, RunInput{
		DeliberationID: deliberation.ID,
		PrincipalID:    owner,
		Question:       "should we adopt a distributed consensus protocol for our storage layer?",
		Mode:           config.ModeQuick,
	})

	got := drain(t, events, 5*time.Second)
	assert.Equal(t, EventError, lastEventType(got))

	balance, err := lg.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	_, err = st.GetLatestAnswer(ctx, deliberation.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSchedulerEchoFallsBackToCanonicalText(t *testing.T) {
	question := "should we adopt a distributed consensus protocol for our storage layer given the current write volume and operational constraints?"
	mode := &config.ModeConfig{
		Name: config.ModeQuick, CreditCost: 1,
		CouncilModels: []string{"m1"}, ChairmanModel: "mod",
	}
	srv := newScriptedServer(t, map[string]string{
		"m1":  "Raft is a reasonable fit here.",
		"mod": question[:90] + " repeated back with nothing new added whatsoever to speak of.",
	})
	cfg := testConfig(srv.Server, mode)
	sched, st, lg := newTestScheduler(t, cfg)

	ctx := context.Background()
	owner := uuid.New()
	_, err := lg.EnsurePrincipal(ctx, owner, models.PrincipalStandard, 10)
	require.NoError(t, err)
	_, err = lg.Reserve(ctx, owner, mode.CreditCost)
	require.NoError(t, err)

	deliberation, err := st.CreateDeliberation(ctx, owner)
	require.NoError(t, err)

	events := sched.Run(ctx, RunInput{
		DeliberationID: deliberation.ID,
		PrincipalID:    owner,
		Question:       question,
		Mode:           config.ModeQuick,
	})

	got := drain(t, events, 5*time.Second)
	assert.Equal(t, EventComplete, lastEventType(got))

	answer, err := st.GetLatestAnswer(ctx, deliberation.ID)
	require.NoError(t, err)
	assert.True(t, answer.Stage3.EchoDetected)
	assert.True(t, answer.Stage3.EchoFallback)
	assert.Equal(t, canonicalEchoFailureText, answer.Stage3.Response)
}
