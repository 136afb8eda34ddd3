package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID    string            `json:"documentId"`
	Filename      string            `json:"filename"`
	ByteSize      int64             `json:"byteSize"`
	Status        Status            `json:"status"`
	StatusReason  string            `json:"statusReason,omitempty"`
	PageCount     int               `json:"pageCount"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Conversations []ConversationRef `json:"conversations"`
}

// ToResponse converts a document for JSON output.
func ToResponse(doc Document) DocumentResponse {
	refs := doc.ConversationRefs
	if refs == nil {
		refs = []ConversationRef{}
	}
	return DocumentResponse{
		DocumentID:    doc.ID,
		Filename:      doc.Filename,
		ByteSize:      doc.ByteSize,
		Status:        doc.Status,
		StatusReason:  doc.StatusReason,
		PageCount:     doc.PageCount,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Conversations: refs,
	}
}
