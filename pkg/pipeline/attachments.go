package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/upstream"
)

var (
	// ErrTooManyAttachments indicates a submission exceeded maxAttachments.
	ErrTooManyAttachments = errors.New("too many attachments")

	// ErrInvalidAttachment indicates an attachment is missing the payload
	// its kind requires.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// maxAttachments bounds how many files a single turn may carry, grounded on
// file_processing.py's MAX_FILES.
const maxAttachments = 5

// attachmentCreditCost is charged per attachment on top of the mode's base
// cost. There's no equivalent constant in the source to carry forward —
// attachments there aren't separately metered — so this is a conservative
// implementation default rather than a grounded figure.
const attachmentCreditCost = 1

// CreditCost is the amount a turn reserves: the mode's base cost plus a
// per-attachment surcharge. Shared by the Dispatcher (reserve) and the
// Scheduler (refund on failure) so the two amounts can never drift apart.
func CreditCost(mode *config.ModeConfig, attachmentCount int) int {
	return mode.CreditCost + attachmentCount*attachmentCreditCost
}

// ValidateAttachments enforces the attachment count cap and per-kind shape
// invariants before any credit is reserved.
func ValidateAttachments(attachments []models.Attachment) error {
	if len(attachments) > maxAttachments {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManyAttachments, len(attachments), maxAttachments)
	}
	for _, a := range attachments {
		switch a.Kind {
		case models.AttachmentImage:
			if a.DataURI == "" {
				return fmt.Errorf("%w: image attachment %q has no data_uri", ErrInvalidAttachment, a.Filename)
			}
		case models.AttachmentDocument:
			if a.ExtractedText == "" {
				return fmt.Errorf("%w: document attachment %q has no extracted_text", ErrInvalidAttachment, a.Filename)
			}
		default:
			return fmt.Errorf("%w: unknown attachment kind %q for %q", ErrInvalidAttachment, a.Kind, a.Filename)
		}
	}
	return nil
}

// imageDescriptionPrompt asks a vision-capable endpoint for a short
// description a text-only endpoint can use in place of the actual image,
// grounded on file_processing.py's IMAGE_DESCRIPTION_PROMPT.
const imageDescriptionPrompt = "Describe this image in two or three sentences, focusing on any detail relevant to answering a technical question about it."

// buildAttachmentMessage threads the user's effective query plus every
// attachment into one multi-part message for endpoint. Image attachments
// are inlined as data-URI parts when endpoint supports vision; otherwise
// descriptions supplies a pre-generated textual stand-in, keyed by filename.
// Document attachments are always inlined as extracted text.
func buildAttachmentMessage(query string, attachments []models.Attachment, visionCapable bool, descriptions map[string]string) upstream.Message {
	parts := []upstream.ContentPart{{Type: upstream.ContentPartText, Text: query}}

	for _, a := range attachments {
		switch a.Kind {
		case models.AttachmentImage:
			if visionCapable && a.DataURI != "" {
				parts = append(parts, upstream.ContentPart{
					Type:     upstream.ContentPartImageURL,
					ImageURL: &upstream.ImageURLPart{URL: a.DataURI},
				})
				continue
			}
			desc, ok := descriptions[a.Filename]
			if !ok || desc == "" {
				desc = "description unavailable"
			}
			parts = append(parts, upstream.ContentPart{
				Type: upstream.ContentPartText,
				Text: fmt.Sprintf("[ATTACHED IMAGE: %s]\n%s", a.Filename, desc),
			})
		case models.AttachmentDocument:
			parts = append(parts, upstream.ContentPart{
				Type: upstream.ContentPartText,
				Text: fmt.Sprintf("[ATTACHED DOCUMENT: %s]\n%s", a.Filename, a.ExtractedText),
			})
		}
	}

	return upstream.Message{Role: upstream.RoleUser, ContentParts: parts}
}

// describeImageAttachments generates a short textual description for every
// image attachment, once, via whatever vision-capable endpoint is
// configured — so text-only endpoints in the pool get a real description
// instead of a blank placeholder. Returns nil if no vision-capable endpoint
// is configured; callers fall back to the generic placeholder.
func (s *Scheduler) describeImageAttachments(ctx context.Context, attachments []models.Attachment) map[string]string {
	endpoint, ok := s.visionCapableEndpoint()
	if !ok {
		return nil
	}

	descriptions := make(map[string]string)
	for _, a := range attachments {
		if a.Kind != models.AttachmentImage || a.DataURI == "" {
			continue
		}
		msg := upstream.Message{
			Role: upstream.RoleUser,
			ContentParts: []upstream.ContentPart{
				{Type: upstream.ContentPartText, Text: imageDescriptionPrompt},
				{Type: upstream.ContentPartImageURL, ImageURL: &upstream.ImageURLPart{URL: a.DataURI}},
			},
		}
		answer, err := s.upstream.Call(ctx, endpoint, []upstream.Message{msg})
		if err != nil {
			continue
		}
		descriptions[a.Filename] = answer.Content
	}
	return descriptions
}

// visionCapableEndpoint returns any configured endpoint that supports
// vision. There's no dedicated "description model" concept here, so a
// simple scan over every configured provider stands in for it.
func (s *Scheduler) visionCapableEndpoint() (string, bool) {
	for id, provider := range s.cfg.LLMProviders {
		if provider.SupportsVision {
			return id, true
		}
	}
	return "", false
}

func (s *Scheduler) providerSupportsVision(endpoint string) bool {
	provider, err := s.cfg.Provider(endpoint)
	if err != nil {
		return false
	}
	return provider.SupportsVision
}
