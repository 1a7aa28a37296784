package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/store"
	"github.com/synod-run/synod/pkg/upstream"
)

// RunInput is everything one deliberation run needs; assembled by
// pkg/dispatcher from the inbound request and whatever C3 already knows
// about the deliberation.
type RunInput struct {
	DeliberationID  uuid.UUID
	PrincipalID     uuid.UUID
	Question        string
	Mode            config.ModeName
	IsRerun         bool
	RerunInput      string
	ParentMessageID *uuid.UUID
	SourceAnswerID  *uuid.UUID
	Attachments     []models.Attachment
}

// Scheduler drives one deliberation's stage machine (C5): PREP, S1,
// optionally S1.5 and S2, S3, COMMIT, or FAILED from any of the above.
type Scheduler struct {
	cfg      *config.Config
	upstream *upstream.Client
	store    *store.Store
	ledger   *ledger.Ledger
}

func New(cfg *config.Config, upstreamClient *upstream.Client, st *store.Store, lg *ledger.Ledger) *Scheduler {
	return &Scheduler{cfg: cfg, upstream: upstreamClient, store: st, ledger: lg}
}

// runState carries everything accumulated across stages so each stage
// function can read its predecessors' output and append its own.
type runState struct {
	mode           *config.ModeConfig
	effectiveQuery string
	stage1         models.Stage1
	stage1_5       *models.Stage1_5
	stage2         *models.Stage2
	stage3         models.Stage3
	titleCh        <-chan string
}

// Run spawns the entire state machine as a detached goroutine and returns
// the event channel the Dispatcher multiplexes onto the client stream. The
// channel is closed (the sentinel) when the run reaches DONE or FAILED;
// Run never blocks the caller.
func (s *Scheduler) Run(ctx context.Context, in RunInput) <-chan Event {
	events := make(chan Event, 64)
	go s.run(ctx, in, events)
	return events
}

func (s *Scheduler) run(ctx context.Context, in RunInput, events chan<- Event) {
	defer close(events)

	mode, err := s.cfg.Mode(in.Mode)
	if err != nil {
		events <- event(EventError, errorData{Message: err.Error()})
		return
	}

	st := &runState{mode: mode}

	events <- event(EventRunStarted, runStartedData{Mode: string(in.Mode)})

	if err := s.prep(ctx, in, st, events); err != nil {
		s.fail(ctx, in, events, err)
		return
	}

	if err := s.runS1(ctx, in, st, events); err != nil {
		s.fail(ctx, in, events, err)
		return
	}

	if mode.EnableCrossReview {
		s.runS1_5(ctx, st, events)
	} else {
		events <- event(EventStage1_5Skipped, skippedData{Reason: "mode does not enable cross-review"})
	}

	if mode.EnablePeerReview {
		s.runS2(ctx, st, events)
	} else {
		events <- event(EventStage2Skipped, skippedData{Reason: "mode does not enable peer review"})
	}

	if err := s.runS3(ctx, st, events); err != nil {
		s.fail(ctx, in, events, err)
		return
	}

	s.commit(ctx, in, st, events)
}

type runStartedData struct {
	Mode string `json:"mode"`
}

type skippedData struct {
	Reason string `json:"reason"`
}

type errorData struct {
	Message string `json:"message"`
}

// prep resolves the effective query (raw, follow-up, or rerun) and, for a
// brand-new non-rerun non-follow-up question, kicks off the detached title
// generation subtask.
func (s *Scheduler) prep(ctx context.Context, in RunInput, st *runState, events chan<- Event) error {
	events <- event(EventStagePreparing, stagePreparingData{NextStage: "S1"})

	if in.IsRerun {
		var sourceID uuid.UUID
		if in.ParentMessageID != nil {
			sourceID = *in.ParentMessageID
		}
		source, err := s.store.GetMessageByID(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("load rerun source: %w", err)
		}
		if source.Stage3 == nil {
			return errors.New("rerun source has no prior synthesis")
		}
		packet := extractTLDRPacket(source.Stage3.Response)
		original, err := s.store.GetOriginalQuestion(ctx, in.DeliberationID)
		if err != nil {
			return fmt.Errorf("load original question: %w", err)
		}
		st.effectiveQuery = buildRerunQuery(original.Content, packet, in.RerunInput)
		return nil
	}

	prior, err := s.loadPriorAnswer(ctx, in)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load prior answer: %w", err)
	}
	if prior != nil && prior.Stage3 != nil {
		if prior.ContextSummary != nil {
			st.effectiveQuery = buildFollowupQuery(in.Question, *prior.ContextSummary, st.mode.FollowupVerbosity)
		} else {
			// Legacy row committed before context_summary existed: fall back
			// to the verbatim-prepend form, the only context it has.
			st.effectiveQuery = buildFollowupEffectiveQuery(prior.Stage3.Response, in.Question)
		}
		return nil
	}

	st.effectiveQuery = in.Question
	st.titleCh = generateTitle(ctx, s.upstream, st.mode.ChairmanModel, in.Question)
	return nil
}

func (s *Scheduler) loadPriorAnswer(ctx context.Context, in RunInput) (*models.Message, error) {
	if in.SourceAnswerID != nil {
		return s.store.GetMessageByID(ctx, *in.SourceAnswerID)
	}
	return s.store.GetLatestAnswer(ctx, in.DeliberationID)
}

type stagePreparingData struct {
	NextStage string `json:"next_stage"`
}

// runS1 fans the effective query out to every endpoint in the mode's pool.
// Failure of every endpoint is fatal; partial success continues.
func (s *Scheduler) runS1(ctx context.Context, in RunInput, st *runState, events chan<- Event) error {
	events <- event(EventStage1Start, nil)
	stop := startHeartbeat(ctx, "stage1", events)
	defer stop()

	var results []upstream.Result
	if len(in.Attachments) > 0 {
		descriptions := s.describeImageAttachments(ctx, in.Attachments)
		results = upstream.RunParallelPerEndpoint(ctx, s.upstream, st.mode.CouncilModels, func(endpoint string) []upstream.Message {
			return []upstream.Message{buildAttachmentMessage(st.effectiveQuery, in.Attachments, s.providerSupportsVision(endpoint), descriptions)}
		})
	} else {
		messages := []upstream.Message{{Role: upstream.RoleUser, Content: st.effectiveQuery}}
		results = upstream.RunParallel(ctx, s.upstream, st.mode.CouncilModels, messages)
	}

	if !upstream.AnySucceeded(results) {
		return fmt.Errorf("stage1: %w", upstream.ErrAllEndpointsFailed)
	}

	for _, r := range results {
		if r.Err != nil {
			slog.Warn("stage1 endpoint failed", "endpoint", r.Endpoint, "error", r.Err)
			continue
		}
		st.stage1.Responses = append(st.stage1.Responses, models.Stage1Response{
			Endpoint: r.Endpoint, Content: r.Answer.Content,
		})
	}

	events <- event(EventStage1Complete, st.stage1)
	return nil
}

// runS1_5 runs the cross-review/refine pass: every endpoint sees its own
// prior answer verbatim plus the others anonymized and shuffled, and may
// revise. A failing endpoint's S1 answer is kept unchanged.
func (s *Scheduler) runS1_5(ctx context.Context, st *runState, events chan<- Event) {
	events <- event(EventStage1_5Start, nil)
	stop := startHeartbeat(ctx, "stage1_5", events)
	defer stop()

	refined := make([]models.Stage1_5Response, len(st.stage1.Responses))
	for i, r := range st.stage1.Responses {
		refined[i] = models.Stage1_5Response{Endpoint: r.Endpoint, Content: r.Content}
	}

	var wg sync.WaitGroup
	for i, r := range st.stage1.Responses {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			others := shuffledOthers(st.stage1.Responses, i)
			prompt := crossReviewPrompt(st.effectiveQuery, r.Content, others)
			answer, err := s.upstream.Call(ctx, r.Endpoint, []upstream.Message{
				{Role: upstream.RoleUser, Content: prompt},
			})
			if err != nil {
				slog.Warn("stage1_5 endpoint failed, keeping stage1 answer", "endpoint", r.Endpoint, "error", err)
				return
			}
			refined[i].Content = answer.Content
		}()
	}
	wg.Wait()

	st.stage1_5 = &models.Stage1_5{Responses: refined}
	events <- event(EventStage1_5Complete, st.stage1_5)
}

func shuffledOthers(responses []models.Stage1Response, exclude int) []string {
	others := make([]string, 0, len(responses)-1)
	for i, r := range responses {
		if i != exclude {
			others = append(others, r.Content)
		}
	}
	rand.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	return others
}

// activeResponses returns the surviving response set: S1.5's refined
// answers if cross-review ran, else S1's.
func (st *runState) activeResponses() []endpointText {
	if st.stage1_5 != nil {
		out := make([]endpointText, len(st.stage1_5.Responses))
		for i, r := range st.stage1_5.Responses {
			out[i] = endpointText{Endpoint: r.Endpoint, Text: r.Content}
		}
		return out
	}
	out := make([]endpointText, len(st.stage1.Responses))
	for i, r := range st.stage1.Responses {
		out[i] = endpointText{Endpoint: r.Endpoint, Text: r.Content}
	}
	return out
}

// runS2 relabels the surviving responses Response A, B, …, asks every
// endpoint in the pool to rank them, parses and aggregates.
func (s *Scheduler) runS2(ctx context.Context, st *runState, events chan<- Event) {
	events <- event(EventStage2Start, nil)
	stop := startHeartbeat(ctx, "stage2", events)
	defer stop()

	active := st.activeResponses()
	labels := make([]string, len(active))
	texts := make([]string, len(active))
	labelToEndpoint := make(map[string]string, len(active))
	for i, r := range active {
		label := responseLabel(i)
		labels[i] = label
		texts[i] = r.Text
		labelToEndpoint[label] = r.Endpoint
	}

	prompt := rankingPrompt(st.effectiveQuery, labels, texts)
	messages := []upstream.Message{{Role: upstream.RoleUser, Content: prompt}}
	results := upstream.RunParallel(ctx, s.upstream, st.mode.CouncilModels, messages)

	var rankings []models.Stage2Ranking
	for _, r := range results {
		if r.Err != nil {
			slog.Warn("stage2 endpoint failed to rank", "endpoint", r.Endpoint, "error", r.Err)
			continue
		}
		rankings = append(rankings, models.Stage2Ranking{
			Endpoint: r.Endpoint,
			Ranking:  parseRankingFromText(r.Answer.Content),
			RawText:  r.Answer.Content,
		})
	}

	aggregate := calculateAggregateRankings(rankings, labelToEndpoint)
	st.stage2 = &models.Stage2{Rankings: rankings, Aggregate: aggregate}

	events <- event(EventStage2Complete, stage2CompleteData{
		Data:           st.stage2,
		LabelToModel:   labelToEndpoint,
		AggregateRanks: aggregate,
	})
}

type stage2CompleteData struct {
	Data           *models.Stage2    `json:"data"`
	LabelToModel   map[string]string `json:"label_to_model"`
	AggregateRanks []string          `json:"aggregate_rankings"`
}

func responseLabel(i int) string {
	return fmt.Sprintf("Response %c", rune('A'+i))
}

// runS3 issues the synthesis prompt to the moderator endpoint, runs echo
// detection, and retries once with a stricter prompt before falling back to
// a canned failure text that still counts as a committed stage3.
func (s *Scheduler) runS3(ctx context.Context, st *runState, events chan<- Event) error {
	events <- event(EventStage3Start, nil)
	stop := startHeartbeat(ctx, "stage3", events)
	defer stop()

	responses := st.activeResponses()

	var rankingTexts []endpointText
	if st.stage2 != nil {
		for _, r := range st.stage2.Rankings {
			rankingTexts = append(rankingTexts, endpointText{Endpoint: r.Endpoint, Text: r.RawText})
		}
	}

	prompt := synthesisPrompt(st.effectiveQuery, responses, rankingTexts)
	answer, err := s.upstream.Call(ctx, st.mode.ChairmanModel, []upstream.Message{
		{Role: upstream.RoleUser, Content: prompt},
	})
	if err != nil {
		return fmt.Errorf("stage3 synthesis call failed: %w", err)
	}

	text := answer.Content
	echoDetected := false
	echoFallback := false

	if detectEcho(st.effectiveQuery, text) {
		echoDetected = true
		events <- event(EventRetry, retryData{Reason: "moderator echoed the question"})

		if tail, ok := extractSynthesisTail(text, echoQuestionPrefixLen); ok {
			text = tail
		} else {
			retryAnswer, err := s.upstream.Call(ctx, st.mode.ChairmanModel, []upstream.Message{
				{Role: upstream.RoleUser, Content: retrySynthesisPrompt(st.effectiveQuery, responses)},
			})
			if err == nil && !detectEcho(st.effectiveQuery, retryAnswer.Content) {
				text = retryAnswer.Content
			} else {
				slog.Warn("moderator echoed the question twice, committing canned fallback",
					"endpoint", st.mode.ChairmanModel)
				text = canonicalEchoFailureText
				echoFallback = true
			}
		}
	}

	st.stage3 = models.Stage3{
		Response:         text,
		ChairmanEndpoint: st.mode.ChairmanModel,
		EchoDetected:     echoDetected,
		EchoFallback:     echoFallback,
	}
	events <- event(EventStage3Complete, st.stage3)
	return nil
}

type retryData struct {
	Reason string `json:"reason"`
}

// commit writes the whole transcript atomically via C3, persists the
// derived context summary, awaits any in-flight title generation, and
// emits the terminal complete event.
func (s *Scheduler) commit(ctx context.Context, in RunInput, st *runState, events chan<- Event) {
	originalQuestion := in.Question
	if original, err := s.store.GetOriginalQuestion(ctx, in.DeliberationID); err == nil {
		originalQuestion = original.Content
	}
	summary := buildContextSummary(originalQuestion, st.stage3, st.stage1, st.stage2)

	msg, err := s.store.CommitAnswer(ctx, store.CommitInput{
		DeliberationID:  in.DeliberationID,
		Content:         in.Question,
		Mode:            string(in.Mode),
		IsRerun:         in.IsRerun,
		RerunInput:      in.RerunInput,
		ParentMessageID: in.ParentMessageID,
		Stage1:          &st.stage1,
		Stage1_5:        st.stage1_5,
		Stage2:          st.stage2,
		Stage3:          &st.stage3,
		ContextSummary:  &summary,
	})
	if err != nil {
		s.fail(ctx, in, events, fmt.Errorf("commit answer: %w", err))
		return
	}

	if st.titleCh != nil {
		if title := <-st.titleCh; title != "" {
			if err := s.store.SetTitle(ctx, in.DeliberationID, title); err != nil {
				slog.Warn("failed to persist generated title", "deliberation", in.DeliberationID, "error", err)
			} else {
				events <- event(EventTitleComplete, titleCompleteData{Title: title})
			}
		}
	}

	// Balance reporting is best-effort; a failure here must not undo the
	// already-committed answer.
	if bal, err := s.ledger.Balance(ctx, in.PrincipalID); err == nil {
		events <- event(EventComplete, completeData{
			Credits:   bal,
			Mode:      string(in.Mode),
			MessageID: msg.ID,
		})
		return
	}
	events <- event(EventComplete, completeData{Mode: string(in.Mode), MessageID: msg.ID})
}

type titleCompleteData struct {
	Title string `json:"title"`
}

type completeData struct {
	Credits   int       `json:"credits,omitempty"`
	Mode      string    `json:"mode"`
	MessageID uuid.UUID `json:"message_id"`
}

// fail refunds the mode's credit cost and emits the terminal error event
// (I3). Refund is called unconditionally; Ledger.Reserve and Ledger.Refund
// already special-case the unlimited role internally, so the Scheduler
// never needs to know a principal's role to stay I3-correct.
func (s *Scheduler) fail(ctx context.Context, in RunInput, events chan<- Event, cause error) {
	slog.Error("deliberation failed", "deliberation", in.DeliberationID, "error", cause)

	if mode, modeErr := s.cfg.Mode(in.Mode); modeErr == nil {
		if _, err := s.ledger.Refund(ctx, in.PrincipalID, CreditCost(mode, len(in.Attachments))); err != nil {
			slog.Error("refund after failure also failed", "deliberation", in.DeliberationID, "error", err)
		}
	}

	events <- event(EventError, errorData{Message: cause.Error()})
}
