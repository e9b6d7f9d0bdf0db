package discord

// Decision is the outcome of outbound thread routing.
type Decision string

const (
	DecisionThreadPresent       Decision = "thread_present"
	DecisionNotMentioned        Decision = "not_mentioned"
	DecisionMissingReplyContext Decision = "missing_reply_context"
	DecisionCreateThread        Decision = "create_thread"
)

// Decide picks how an outbound reply is routed. First match wins: a known
// thread, then an unmentioned message, then a missing anchor message.
func Decide(hasThreadID, mentionedBot, hasReplyContext bool) Decision {
	switch {
	case hasThreadID:
		return DecisionThreadPresent
	case !mentionedBot:
		return DecisionNotMentioned
	case !hasReplyContext:
		return DecisionMissingReplyContext
	default:
		return DecisionCreateThread
	}
}
