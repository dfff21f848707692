package relay

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// TokenPrefix marks a string argument as a pointer into the store.
// The full token shape is "image:<id>".
const TokenPrefix = "image:"

// directiveFormat tells the model how to spend a token. The wording is part
// of the prompt contract with the search tool.
const directiveFormat = `Attachment %d (%s) is available as token %q. Pass that value to the searchProducts tool's base64Image argument to search by this image.`

// AugmentMessage converts the file attachments of an inbound user message
// into pointer tokens. Each file part with a parseable data-URL payload is
// registered in the store and a synthetic text part directing the model to
// the token is appended. The original file parts stay in place so the UI
// can still render them.
//
// File parts without a payload, or whose URL has no data separator, are
// skipped: no token, no directive. A message with no convertible file parts
// is returned unchanged.
func AugmentMessage(store *PointerStore, msg *models.Message) *models.Message {
	if msg == nil || len(msg.Parts) == 0 {
		return msg
	}

	var directives []models.MessagePart
	attachmentNum := 0
	for _, part := range msg.Parts {
		if part.Type != models.PartFile || part.URL == "" {
			continue
		}
		attachmentNum++

		payload := DataURLPayload(part.URL)
		if payload == "" {
			continue
		}

		mediaType := part.MediaType
		if mediaType == "" {
			mediaType = "unknown"
		}
		token := TokenPrefix + store.Put(payload, mediaType)
		directives = append(directives, models.MessagePart{
			Type: models.PartText,
			Text: fmt.Sprintf(directiveFormat, attachmentNum, mediaType, token),
		})
	}

	if len(directives) == 0 {
		return msg
	}

	augmented := *msg
	augmented.Parts = make([]models.MessagePart, 0, len(msg.Parts)+len(directives))
	augmented.Parts = append(augmented.Parts, msg.Parts...)
	augmented.Parts = append(augmented.Parts, directives...)
	return &augmented
}

// DataURLPayload extracts the base64 body of a data-URL. Returns "" when
// the URL has no comma separator or an empty body.
func DataURLPayload(url string) string {
	comma := strings.IndexByte(url, ',')
	if comma < 0 {
		return ""
	}
	return url[comma+1:]
}
