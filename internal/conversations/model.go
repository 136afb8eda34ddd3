package conversations

import "time"

// Role identifies who wrote a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAI
}

// Message is one append-only entry in a conversation. Seq is assigned by
// the repository on append and defines conversation order.
type Message struct {
	Seq       int
	Role      Role
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Conversation is a chat thread scoped to exactly one document.
type Conversation struct {
	ID         string
	DocumentID string
	OwnerID    string
	CreatedAt  time.Time
	Messages   []Message
}
