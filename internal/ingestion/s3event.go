package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/shared/util"
)

// testEvent is the body S3 sends once when a notification target is configured.
type testEvent struct {
	Event string `json:"Event"`
}

// ParseS3Event decodes an S3 event notification body as delivered to SQS.
// Keys are mapped to owners through the "<prefix>/<ownerId>/<file>" layout.
func ParseS3Event(prefix string, body []byte) ([]Notification, error) {
	var te testEvent
	if err := json.Unmarshal(body, &te); err == nil && te.Event == "s3:TestEvent" {
		return nil, nil
	}
	var evt events.S3Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decode s3 event: %w", err)
	}
	return NotificationsFromS3Event(prefix, evt), nil
}

// NotificationsFromS3Event keeps ObjectCreated records whose keys map to an
// owner. Other records are logged and skipped.
func NotificationsFromS3Event(prefix string, evt events.S3Event) []Notification {
	out := make([]Notification, 0, len(evt.Records))
	for _, rec := range evt.Records {
		if !strings.HasPrefix(rec.EventName, "ObjectCreated") {
			continue
		}
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			decoded, err := url.QueryUnescape(rec.S3.Object.Key)
			if err != nil {
				decoded = rec.S3.Object.Key
			}
			key = decoded
		}
		owner, file, err := util.SplitArtifactKey(prefix, key)
		if err != nil {
			telemetry.Warn("ingestion.s3_event.unmapped_key", map[string]any{
				"bucket": rec.S3.Bucket.Name,
				"key":    key,
			})
			continue
		}
		out = append(out, Notification{
			ArtifactKey: stripPrefix(prefix, key),
			OwnerID:     owner,
			Filename:    file,
			ByteSize:    rec.S3.Object.Size,
		})
	}
	return out
}

// HandleS3Message parses body and feeds every notification to the machine.
// The first failure is returned so the message is redelivered; notifications
// already handled are idempotent on the next attempt.
func (m *Machine) HandleS3Message(ctx context.Context, prefix string, body []byte) error {
	notes, err := ParseS3Event(prefix, body)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if _, err := m.HandleUpload(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func stripPrefix(prefix, key string) string {
	k := strings.TrimLeft(key, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		k = strings.TrimPrefix(k, p+"/")
	}
	return k
}
