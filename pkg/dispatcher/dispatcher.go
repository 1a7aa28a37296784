// Package dispatcher implements C6, the process-wide registry that sits
// between the control surface (pkg/api) and one deliberation's Scheduler
// run: submit, cancel, retry, and status, exactly as spec.md §4.6
// describes them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/pipeline"
	"github.com/synod-run/synod/pkg/store"
)

// maxQuestionChars bounds a single Question's size; there is no equivalent
// constant in the source to carry forward, so this is a conservative
// implementation default rather than a grounded figure.
const maxQuestionChars = 32000

// registration is what the registry keeps per in-flight deliberation.
type registration struct {
	cancel context.CancelFunc
	queue  *eventQueue
	stage  atomicString
}

// Dispatcher owns the process-wide registry and wires together C3, C4, and
// C5 for one deliberation turn.
type Dispatcher struct {
	cfg       *config.Config
	store     *store.Store
	ledger    *ledger.Ledger
	scheduler *pipeline.Scheduler

	regs registryMap
}

func New(cfg *config.Config, st *store.Store, lg *ledger.Ledger, sched *pipeline.Scheduler) *Dispatcher {
	return &Dispatcher{cfg: cfg, store: st, ledger: lg, scheduler: sched, regs: newRegistryMap()}
}

// SubmitRequest is everything a caller (pkg/api) supplies for one turn.
// Mutually exclusive with a rerun: IsRerun selects the rerun path entirely
// (RerunInput, ParentMessageID name the rerun's source Answer); otherwise
// Question is a new turn, optionally a follow-up resolved against the
// deliberation's latest Answer or, if SourceAnswerID is set, against that
// specific prior Answer.
type SubmitRequest struct {
	Question        string
	Mode            config.ModeName
	IsRerun         bool
	RerunInput      string
	ParentMessageID *uuid.UUID
	SourceAnswerID  *uuid.UUID
	Attachments     []models.Attachment
}

// Submit validates ownership, input size, and mode, reserves credits,
// appends the Question, and spawns the Scheduler task detached from ctx —
// only the returned stream is tied to ctx, so a client disconnect (ctx
// cancellation) never reaches the Scheduler (§5, §9). If deliberationID is
// nil a new deliberation is created for owner.
func (d *Dispatcher) Submit(ctx context.Context, owner uuid.UUID, deliberationID *uuid.UUID, req SubmitRequest) (uuid.UUID, <-chan pipeline.Event, error) {
	if deliberationID != nil {
		if _, err := d.store.GetDeliberation(ctx, *deliberationID, &owner); err != nil {
			return uuid.Nil, nil, err
		}
	}

	if len(req.Question) > maxQuestionChars {
		return uuid.Nil, nil, ErrInputTooLarge
	}

	if err := pipeline.ValidateAttachments(req.Attachments); err != nil {
		return uuid.Nil, nil, err
	}

	mode, err := d.cfg.Mode(req.Mode)
	if err != nil {
		return uuid.Nil, nil, err
	}

	// Reserve before any storage mutation: on InsufficientCreditsError no
	// deliberation or question row is ever created.
	if _, err := d.ledger.Reserve(ctx, owner, pipeline.CreditCost(mode, len(req.Attachments))); err != nil {
		return uuid.Nil, nil, err
	}

	var id uuid.UUID
	if deliberationID == nil {
		deliberation, err := d.store.CreateDeliberation(ctx, owner)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("create deliberation: %w", err)
		}
		id = deliberation.ID
	} else {
		id = *deliberationID
	}

	if _, err := d.store.AppendQuestion(ctx, id, req.Question, string(req.Mode), req.IsRerun, req.RerunInput, req.ParentMessageID); err != nil {
		return uuid.Nil, nil, fmt.Errorf("append question: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	queue := newEventQueue()
	reg := &registration{cancel: cancel, queue: queue}
	reg.stage.store("preparing")
	d.regs.put(id, reg)

	schedulerEvents := d.scheduler.Run(runCtx, pipeline.RunInput{
		DeliberationID:  id,
		PrincipalID:     owner,
		Question:        req.Question,
		Mode:            req.Mode,
		IsRerun:         req.IsRerun,
		RerunInput:      req.RerunInput,
		ParentMessageID: req.ParentMessageID,
		SourceAnswerID:  req.SourceAnswerID,
		Attachments:     req.Attachments,
	})

	go d.forward(id, reg, schedulerEvents)

	return id, queue.stream(ctx), nil
}

// forward drains the Scheduler's bounded channel into the unbounded queue,
// tracking the current stage for status(), and clears the registry entry
// once the sentinel (channel close) is observed.
func (d *Dispatcher) forward(deliberationID uuid.UUID, reg *registration, events <-chan pipeline.Event) {
	for e := range events {
		reg.stage.store(string(e.Type))
		reg.queue.push(e)
	}
	reg.queue.closeQueue()
	d.regs.deleteIfSame(deliberationID, reg)
}

// Cancel requests cancellation of a registered task and clears its
// registry entry. Best-effort: if nothing is registered (already finished,
// or never existed), this is a no-op. Cancellation is cooperative — the
// Scheduler only observes it at its next suspension point and exits via
// the FAILED path, refunding.
func (d *Dispatcher) Cancel(deliberationID uuid.UUID) {
	reg, ok := d.regs.popIfPresent(deliberationID)
	if !ok {
		return
	}
	reg.cancel()
}

// StatusResult is the four-way branch §4.6 describes.
type StatusResult struct {
	Processing      bool
	CurrentStage    string
	Orphaned        bool
	OrphanedMessage *models.Message
	Incomplete      bool
}

// Status checks the in-memory registry first; if nothing is registered it
// falls back to C3 to distinguish a clean completion from an orphaned
// Question (I2) from a (legacy-only) incomplete Answer.
func (d *Dispatcher) Status(ctx context.Context, deliberationID uuid.UUID) (StatusResult, error) {
	if reg, ok := d.regs.get(deliberationID); ok {
		return StatusResult{Processing: true, CurrentStage: reg.stage.load()}, nil
	}

	last, err := d.store.GetLastMessage(ctx, deliberationID)
	if errors.Is(err, store.ErrNotFound) {
		return StatusResult{Processing: false}, nil
	}
	if err != nil {
		return StatusResult{}, err
	}

	if last.Role == models.RoleQuestion {
		return StatusResult{Processing: false, Orphaned: true, OrphanedMessage: last}, nil
	}
	if last.Stage3 == nil {
		return StatusResult{Processing: false, Incomplete: true}, nil
	}
	return StatusResult{Processing: false}, nil
}

// Retry re-submits a trailing orphaned Question: permitted only when
// messageID names a Question (enforced by store.DeleteQuestionByID, which
// refuses to delete an Answer), deletes it, and proceeds exactly as
// Submit so the retried turn produces exactly one Question in the final
// transcript.
func (d *Dispatcher) Retry(ctx context.Context, owner, deliberationID, messageID uuid.UUID, mode config.ModeName) (uuid.UUID, <-chan pipeline.Event, error) {
	// Ownership must be checked before anything is deleted: otherwise a
	// caller who merely guesses another owner's orphaned messageID could
	// have it deleted before Submit's own ownership check ever runs.
	if _, err := d.store.GetDeliberation(ctx, deliberationID, &owner); err != nil {
		return uuid.Nil, nil, err
	}

	msg, err := d.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if msg.DeliberationID != deliberationID {
		return uuid.Nil, nil, ErrNotAQuestion
	}
	if msg.Role != models.RoleQuestion {
		return uuid.Nil, nil, ErrNotAQuestion
	}

	if err := d.store.DeleteQuestionByID(ctx, messageID); err != nil {
		return uuid.Nil, nil, err
	}

	slog.Info("retrying orphaned question", "deliberation", deliberationID, "message", messageID)

	return d.Submit(ctx, owner, &deliberationID, SubmitRequest{
		Question: msg.Content,
		Mode:     mode,
	})
}
