package dispatcher

import (
	"errors"

	"github.com/synod-run/synod/pkg/pipeline"
)

var (
	// ErrInputTooLarge indicates the question text exceeds maxQuestionChars.
	ErrInputTooLarge = errors.New("question exceeds maximum size")

	// ErrNotAQuestion indicates retry() was pointed at a message that is not
	// a pending Question of the named deliberation (an Answer, or a message
	// of another deliberation); a nonexistent id yields store.ErrNotFound.
	ErrNotAQuestion = errors.New("target message is not a pending question")

	// ErrTooManyAttachments and ErrInvalidAttachment alias pkg/pipeline's
	// attachment errors so pkg/api only needs to depend on this package's
	// error surface, matching every other error this package re-exports.
	ErrTooManyAttachments = pipeline.ErrTooManyAttachments
	ErrInvalidAttachment  = pipeline.ErrInvalidAttachment
)
