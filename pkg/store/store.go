// Package store implements C3, the append-only transcript store. commitAnswer
// is the sole path by which an Answer row is ever created, and it always
// writes a complete row in one statement — no other code path may create or
// mutate a message's stage3 field, which is what makes I1 (no partial
// Answer is ever observable) hold.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synod-run/synod/pkg/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateDeliberation inserts a new deliberation owned by owner. Title starts
// empty; the PREP stage's detached title-generation subtask fills it in
// later via SetTitle.
func (s *Store) CreateDeliberation(ctx context.Context, owner uuid.UUID) (*models.Deliberation, error) {
	id := uuid.New()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliberations (id, owner_id, title, created_at) VALUES ($1, $2, '', $3)`,
		id, owner, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create deliberation: %w", err)
	}
	return &models.Deliberation{ID: id, OwnerID: owner, CreatedAt: now}, nil
}

func (s *Store) SetTitle(ctx context.Context, deliberationID uuid.UUID, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deliberations SET title = $1 WHERE id = $2`, title, deliberationID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// GetDeliberation fetches a deliberation, enforcing I4 owner isolation when
// owner is non-nil.
func (s *Store) GetDeliberation(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Deliberation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at FROM deliberations WHERE id = $1`, id)

	var d models.Deliberation
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deliberation: %w", err)
	}
	if owner != nil && d.OwnerID != *owner {
		return nil, ErrNotOwned
	}
	return &d, nil
}

// ListByOwner returns the owner's deliberations newest-first, along with the
// total count for pagination metadata (original's list_conversations).
func (s *Store) ListByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*models.Deliberation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM deliberations WHERE owner_id = $1`, owner,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliberations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.owner_id, d.title, d.created_at,
		        COUNT(m.id) FILTER (WHERE m.role = $4) AS message_count
		 FROM deliberations d
		 LEFT JOIN messages m ON m.deliberation_id = d.id
		 WHERE d.owner_id = $1
		 GROUP BY d.id
		 ORDER BY d.created_at DESC LIMIT $2 OFFSET $3`,
		owner, limit, offset, models.RoleQuestion,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliberations: %w", err)
	}
	defer rows.Close()

	var out []*models.Deliberation
	for rows.Next() {
		var d models.Deliberation
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Title, &d.CreatedAt, &d.MessageCount); err != nil {
			return nil, 0, fmt.Errorf("scan deliberation: %w", err)
		}
		out = append(out, &d)
	}
	return out, total, rows.Err()
}

// AppendQuestion inserts the Question row that begins a new deliberation
// turn. Until commitAnswer succeeds, this row has no corresponding Answer —
// if the process crashes in between, it is the "trailing question" I2 asks
// for a recovery path over.
func (s *Store) AppendQuestion(ctx context.Context, deliberationID uuid.UUID, content, mode string, isRerun bool, rerunInput string, parentMessageID *uuid.UUID) (*models.Message, error) {
	id := uuid.New()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id, revision_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)`,
		id, deliberationID, models.RoleQuestion, content, mode, isRerun, nullableString(rerunInput), nullableUUID(parentMessageID), now,
	)
	if err != nil {
		return nil, fmt.Errorf("append question: %w", err)
	}
	return &models.Message{
		ID: id, DeliberationID: deliberationID, Role: models.RoleQuestion, Content: content,
		Mode: mode, IsRerun: isRerun, RerunInput: rerunInput, ParentMessageID: parentMessageID,
		RevisionNumber: 1, CreatedAt: now,
	}, nil
}

// CommitInput bundles every field of a completed Answer so commitAnswer can
// write the whole row in one INSERT (I1: atomic commit, no interim states).
type CommitInput struct {
	DeliberationID  uuid.UUID
	Content         string
	Mode            string
	IsRerun         bool
	RerunInput      string
	ParentMessageID *uuid.UUID
	Stage1          *models.Stage1
	Stage1_5        *models.Stage1_5
	Stage2          *models.Stage2
	Stage3          *models.Stage3
	ContextSummary  *models.ContextSummary
}

// CommitAnswer is the sole path by which an Answer row is ever created. It
// runs in its own transaction, and a rerun locks its parent row before the
// revision-number lookup, so the lookup and the insert are atomic with
// respect to concurrent reruns of the same parent.
func (s *Store) CommitAnswer(ctx context.Context, in CommitInput) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	revision := 1
	if in.IsRerun && in.ParentMessageID != nil {
		if _, err := tx.ExecContext(ctx,
			`SELECT id FROM messages WHERE id = $1 FOR UPDATE`, *in.ParentMessageID,
		); err != nil {
			return nil, fmt.Errorf("lock rerun parent: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision_number), 0) + 1 FROM messages
			 WHERE parent_message_id = $1 OR id = $1`, *in.ParentMessageID,
		).Scan(&revision); err != nil {
			return nil, fmt.Errorf("compute revision number: %w", err)
		}
	}

	stage1JSON, err := marshalJSON(in.Stage1)
	if err != nil {
		return nil, err
	}
	stage15JSON, err := marshalJSON(in.Stage1_5)
	if err != nil {
		return nil, err
	}
	stage2JSON, err := marshalJSON(in.Stage2)
	if err != nil {
		return nil, err
	}
	stage3JSON, err := marshalJSON(in.Stage3)
	if err != nil {
		return nil, err
	}
	summaryJSON, err := marshalJSON(in.ContextSummary)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, deliberation_id, role, content, mode, is_rerun, rerun_input,
		                       parent_message_id, revision_number, stage1, stage1_5, stage2, stage3,
		                       context_summary, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		id, in.DeliberationID, models.RoleAnswer, in.Content, in.Mode, in.IsRerun,
		nullableString(in.RerunInput), nullableUUID(in.ParentMessageID), revision,
		stage1JSON, stage15JSON, stage2JSON, stage3JSON, summaryJSON, now,
	)
	if err != nil {
		return nil, fmt.Errorf("commit answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit answer tx: %w", err)
	}

	return &models.Message{
		ID: id, DeliberationID: in.DeliberationID, Role: models.RoleAnswer, Content: in.Content,
		Mode: in.Mode, IsRerun: in.IsRerun, RerunInput: in.RerunInput, ParentMessageID: in.ParentMessageID,
		RevisionNumber: revision, Stage1: in.Stage1, Stage1_5: in.Stage1_5, Stage2: in.Stage2,
		Stage3: in.Stage3, ContextSummary: in.ContextSummary, CreatedAt: now,
	}, nil
}

// GetLatestAnswer returns the most recent committed Answer in the
// deliberation, or ErrNotFound if none has ever committed.
func (s *Store) GetLatestAnswer(ctx context.Context, deliberationID uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id,
		        revision_number, stage1, stage1_5, stage2, stage3, context_summary, created_at
		 FROM messages
		 WHERE deliberation_id = $1 AND role = $2 AND stage3 IS NOT NULL
		 ORDER BY created_at DESC LIMIT 1`,
		deliberationID, models.RoleAnswer,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetOriginalQuestion returns the first Question ever asked in the
// deliberation, used to build the rerun TL;DR context packet.
func (s *Store) GetOriginalQuestion(ctx context.Context, deliberationID uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id,
		        revision_number, stage1, stage1_5, stage2, stage3, context_summary, created_at
		 FROM messages WHERE deliberation_id = $1 AND role = $2 ORDER BY created_at ASC LIMIT 1`,
		deliberationID, models.RoleQuestion,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetMessageByID returns a single message by id regardless of role, used to
// resolve an explicit sourceAnswerId for follow-up questions that target a
// specific prior Answer rather than the most recent one.
func (s *Store) GetMessageByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id,
		        revision_number, stage1, stage1_5, stage2, stage3, context_summary, created_at
		 FROM messages WHERE id = $1`,
		id,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetLastMessage returns the most recent message in the deliberation
// regardless of role, used by C6's status() to distinguish an orphaned
// Question from a committed Answer from a (legacy-only) incomplete Answer.
func (s *Store) GetLastMessage(ctx context.Context, deliberationID uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id,
		        revision_number, stage1, stage1_5, stage2, stage3, context_summary, created_at
		 FROM messages WHERE deliberation_id = $1 ORDER BY created_at DESC LIMIT 1`,
		deliberationID,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetOrphanedQuestion returns the deliberation's last message if it is an
// uncommitted Question (I2): the process crashed or was killed between
// AppendQuestion and CommitAnswer. Returns ErrNotFound if the last message
// is a committed Answer, i.e. nothing is orphaned.
func (s *Store) GetOrphanedQuestion(ctx context.Context, deliberationID uuid.UUID) (*models.Message, error) {
	msg, err := s.GetLastMessage(ctx, deliberationID)
	if err != nil {
		return nil, err
	}
	if msg.Role != models.RoleQuestion {
		return nil, ErrNotFound
	}
	return msg, nil
}

// Revisions returns every Answer sharing messageID's rerun lineage (itself,
// if it is the root, plus every row that named it as parent), ordered by
// revision number — supplements the spec's rerun linkage with the read path
// a UI needs to render rerun history.
func (s *Store) Revisions(ctx context.Context, messageID uuid.UUID) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deliberation_id, role, content, mode, is_rerun, rerun_input, parent_message_id,
		        revision_number, stage1, stage1_5, stage2, stage3, context_summary, created_at
		 FROM messages WHERE (id = $1 OR parent_message_id = $1) AND role = $2
		 ORDER BY revision_number ASC`,
		messageID, models.RoleAnswer,
	)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// CleanupIncompleteMessages deletes any Answer row lacking stage3 — rows
// from the forbidden "pending then update" pattern, or a row that somehow
// survived an interrupted commit before this transactional design existed.
// Under commitAnswer's one-statement-one-transaction discipline this should
// always delete zero rows in steady state; it exists as a defensive sweep,
// grounded on storage_pg.py's cleanup_incomplete_messages.
func (s *Store) CleanupIncompleteMessages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE role = $1 AND stage3 IS NULL`, models.RoleAnswer)
	if err != nil {
		return 0, fmt.Errorf("cleanup incomplete messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteQuestionByID removes a Question row, used by the retry path so a
// retried request produces exactly one Question in the final transcript.
// Returns ErrNotFound if id doesn't name a Question (including if it names
// an Answer — retry must never delete a committed result).
func (s *Store) DeleteQuestionByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = $1 AND role = $2`, id, models.RoleQuestion)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row *sql.Row) (*models.Message, error) {
	return scanMessageRow(row)
}

func scanMessageRow(row scannable) (*models.Message, error) {
	return scanMessageRows(row)
}

func scanMessageRows(row scannable) (*models.Message, error) {
	var (
		m                                                     models.Message
		parentID                                              sql.NullString
		rerunInput                                            sql.NullString
		stage1, stage15, stage2, stage3, contextSummary       sql.NullString
	)
	if err := row.Scan(
		&m.ID, &m.DeliberationID, &m.Role, &m.Content, &m.Mode, &m.IsRerun, &rerunInput,
		&parentID, &m.RevisionNumber, &stage1, &stage15, &stage2, &stage3, &contextSummary, &m.CreatedAt,
	); err != nil {
		return nil, err
	}

	m.RerunInput = rerunInput.String
	if parentID.Valid {
		id, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("parse parent_message_id: %w", err)
		}
		m.ParentMessageID = &id
	}

	if err := unmarshalJSONField(stage1, &m.Stage1); err != nil {
		return nil, fmt.Errorf("parse stage1: %w", err)
	}
	if err := unmarshalJSONField(stage15, &m.Stage1_5); err != nil {
		return nil, fmt.Errorf("parse stage1_5: %w", err)
	}
	if err := unmarshalJSONField(stage2, &m.Stage2); err != nil {
		return nil, fmt.Errorf("parse stage2: %w", err)
	}
	if err := unmarshalJSONField(stage3, &m.Stage3); err != nil {
		return nil, fmt.Errorf("parse stage3: %w", err)
	}
	if err := unmarshalJSONField(contextSummary, &m.ContextSummary); err != nil {
		return nil, fmt.Errorf("parse context_summary: %w", err)
	}
	return &m, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json field: %w", err)
	}
	return b, nil
}

// unmarshalJSONField tolerates a stored value that is either a JSON object
// or (from older rows / hand-edited data) a JSON string containing encoded
// JSON, the same tolerant-parse behavior as storage_pg.py's parse_json_field.
func unmarshalJSONField[T any](raw sql.NullString, out **T) error {
	if !raw.Valid || raw.String == "" {
		*out = nil
		return nil
	}
	data := raw.String
	var asString string
	if err := json.Unmarshal([]byte(data), &asString); err == nil && asString != "" {
		data = asString
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return err
	}
	*out = &v
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
