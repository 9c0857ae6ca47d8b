package chat

import "sync"

// MaxHistory is the number of turns sent back to the backend as context.
const MaxHistory = 10

// AnonymousUser is the user id sent before consent was given.
const AnonymousUser = "anonymous"

// Turn is one exchange of a conversation.
type Turn struct {
	User   string `json:"user"`
	Buddha string `json:"buddha"`
}

// Conversation keeps the most recent turns of a chat.
// It is safe for concurrent use.
type Conversation struct {
	mu     sync.Mutex
	userID string
	turns  []Turn
}

// NewConversation starts an empty conversation for userID.
// An empty userID is sent as AnonymousUser.
func NewConversation(userID string) *Conversation {
	return &Conversation{userID: userID}
}

// UserID returns the user id sent with every message.
func (c *Conversation) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return AnonymousUser
	}
	return c.userID
}

// SetUserID replaces the user id, e.g. after consent.
func (c *Conversation) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// History returns a copy of the kept turns, oldest first.
func (c *Conversation) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append records a turn, dropping the oldest beyond MaxHistory.
func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	if len(c.turns) > MaxHistory {
		c.turns = append([]Turn(nil), c.turns[len(c.turns)-MaxHistory:]...)
	}
}

// Len returns the number of kept turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Reset drops all turns.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
