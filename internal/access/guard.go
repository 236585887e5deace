// Package access decides which chats the bot serves.
package access

// Guard is an immutable allow-list of chat IDs. An empty list allows every
// chat.
type Guard struct {
	allowed map[int64]struct{}
}

func NewGuard(chatIDs []int64) *Guard {
	allowed := make(map[int64]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = struct{}{}
	}
	return &Guard{allowed: allowed}
}

func (g *Guard) IsAllowed(chatID int64) bool {
	if len(g.allowed) == 0 {
		return true
	}
	_, ok := g.allowed[chatID]
	return ok
}

// Restricted reports whether an allow-list is in effect.
func (g *Guard) Restricted() bool {
	return len(g.allowed) > 0
}
