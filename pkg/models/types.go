// Package models holds the DTOs shared across pkg/store, pkg/ledger,
// pkg/pipeline, pkg/dispatcher, and pkg/api — the plain data shapes of the
// transcript, independent of any ORM.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes a Question from a committed Answer within a
// deliberation's message list.
type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
)

// PrincipalRole distinguishes the credit-ledger bypass role from ordinary
// metered accounts.
type PrincipalRole string

const (
	PrincipalStandard  PrincipalRole = "standard"
	PrincipalUnlimited PrincipalRole = "unlimited"
)

type Principal struct {
	ID      uuid.UUID
	Role    PrincipalRole
	Credits int
}

type Deliberation struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"` // count of Question-role messages, not all rows
}

// Stage1Response is one endpoint's independent answer gathered in S1.
type Stage1Response struct {
	Endpoint string `json:"endpoint"`
	Content  string `json:"content"`
}

// Stage1 is the S1 "gather" artifact: every endpoint's independent answer.
type Stage1 struct {
	Responses []Stage1Response `json:"responses"`
}

// Stage1_5Response is one endpoint's refined answer after seeing the
// anonymized peer set, produced only under Extra-Care mode's cross-review pass.
type Stage1_5Response struct {
	Endpoint string `json:"endpoint"`
	Content  string `json:"content"`
}

type Stage1_5 struct {
	Responses []Stage1_5Response `json:"responses"`
}

// Stage2Ranking is one endpoint's full ranking of every response (including
// its own), in the order it placed them.
type Stage2Ranking struct {
	Endpoint string   `json:"endpoint"`
	Ranking  []string `json:"ranking"` // response labels ("Response A", ...), best first
	RawText  string   `json:"raw_text"`
}

// Stage2 is the S2 "peer ranking" artifact.
type Stage2 struct {
	Rankings   []Stage2Ranking `json:"rankings"`
	Aggregate  []string        `json:"aggregate"` // endpoint ids, best first, by mean rank
}

// Stage3 is the S3 "moderator synthesis" artifact.
type Stage3 struct {
	Response         string `json:"response"`
	ChairmanEndpoint string `json:"chairman_endpoint"`
	EchoDetected     bool   `json:"echo_detected"`
	EchoFallback     bool   `json:"echo_fallback"`
}

// ContextSummary is carried into a follow-up question so the moderator has
// condensed prior history without replaying every stage artifact verbatim:
// the original question, a bounded verdict summary, a handful of dissenting
// excerpts, the aggregate peer ranking, and pointers back into the stage1
// responses that produced them (not their full content — that already lives
// on the same row's own stage1 field).
type ContextSummary struct {
	OriginalQuestion  string   `json:"original_question"`
	Verdict           string   `json:"verdict"`
	DissentingPoints  []string `json:"dissenting_points"`
	AggregateRankings []string `json:"aggregate_rankings"`
	Stage1Endpoints   []string `json:"stage1_endpoints"`
}

// AttachmentKind distinguishes the two shapes an external collaborator may
// hand a pre-processed attachment in as.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a single pre-processed file accompanying a question. File-
// format extraction already happened upstream of this process; this struct
// only carries what's needed to thread the result into a multi-part
// upstream message.
type Attachment struct {
	Filename      string         `json:"filename"`
	Kind          AttachmentKind `json:"kind"`
	DataURI       string         `json:"data_uri,omitempty"`
	ExtractedText string         `json:"extracted_text,omitempty"`
}

type Message struct {
	ID               uuid.UUID
	DeliberationID   uuid.UUID
	Role             Role
	Content          string
	Mode             string
	IsRerun          bool
	RerunInput       string
	ParentMessageID  *uuid.UUID
	RevisionNumber   int
	Stage1           *Stage1
	Stage1_5         *Stage1_5
	Stage2           *Stage2
	Stage3           *Stage3
	ContextSummary   *ContextSummary
	CreatedAt        time.Time
}

// Committed reports whether this row represents a fully-written Answer
// (I1: stage3 non-nil is the only observable "done" signal).
func (m *Message) Committed() bool {
	return m.Role == RoleAnswer && m.Stage3 != nil
}
