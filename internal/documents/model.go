package documents

import (
	"slices"
	"strings"
	"time"
)

// Status is a Document's position in the ingestion lifecycle.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
)

// allowedFrom lists the states a transition into the key may start from.
// PROCESSING -> PROCESSING covers a job redelivered after a worker crash.
var allowedFrom = map[Status][]Status{
	StatusProcessing: {StatusUploaded, StatusProcessing},
	StatusReady:      {StatusProcessing},
	StatusError:      {StatusProcessing},
}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusError }

// CanTransition reports whether from -> to is a forward transition.
func CanTransition(from, to Status) bool {
	return slices.Contains(allowedFrom[to], from)
}

// AllowedFrom returns the source states for a transition into to.
func AllowedFrom(to Status) []Status {
	return slices.Clone(allowedFrom[to])
}

// ConversationRef points from a Document to one of its conversations.
type ConversationRef struct {
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Document is an uploaded artifact and its ingestion state.
type Document struct {
	ID               string
	OwnerID          string
	Filename         string
	ArtifactKey      string
	ByteSize         int64
	Status           Status
	StatusReason     string
	PageCount        int
	EnqueuedAt       time.Time // zero until an ingestion job was sent
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ConversationRefs []ConversationRef
}

const derivedTextSuffix = ".extracted.txt"

// DerivedTextKey is where the extracted text of the artifact is kept.
func DerivedTextKey(artifactKey string) string {
	return artifactKey + derivedTextSuffix
}

// IsDerivedKey reports whether key names a derived artifact rather than an
// upload.
func IsDerivedKey(key string) bool {
	return strings.HasSuffix(key, derivedTextSuffix)
}

// DerivedPrefix matches every derived artifact of artifactKey but not the raw one.
func DerivedPrefix(artifactKey string) string {
	return artifactKey + "."
}
