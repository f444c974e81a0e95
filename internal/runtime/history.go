package runtime

import "github.com/nextlevelbuilder/agentwire/pkg/protocol"

// MergeIncoming merges a freshly submitted transcript into the history the
// server already holds. New messages are identified by position: count how
// many user messages the server has incorporated and append everything
// from the following user message onward. Content equality is deliberately
// not used, since it would drop a legitimately repeated message and stall
// the run loop waiting for a user turn it believes already arrived.
func MergeIncoming(history, incoming []protocol.Message) []protocol.Message {
	if len(history) == 0 {
		return incoming
	}

	seen := countUserMessages(history)

	users := 0
	for i, msg := range incoming {
		if msg.Role != protocol.RoleUser {
			continue
		}
		users++
		if users > seen {
			return append(history, incoming[i:]...)
		}
	}
	return history
}

func countUserMessages(msgs []protocol.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == protocol.RoleUser {
			n++
		}
	}
	return n
}
