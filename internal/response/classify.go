package response

import "strings"

// ClassifyReply maps a raw reply body onto a response kind. Matching is
// whole-message against closed keyword sets; anything else is unrecognized
// and goes to staff review, never guessed at.
func ClassifyReply(body string) Kind {
	normalized := strings.ToLower(strings.TrimSpace(body))

	switch {
	case matchesAny(normalized, confirmReplies):
		return KindConfirm
	case matchesAny(normalized, cancelReplies):
		return KindCancelRequest
	case matchesAny(normalized, rescheduleReplies):
		return KindRescheduleRequest
	case matchesAny(normalized, stopReplies):
		return KindStop
	}
	return KindUnrecognized
}

var confirmReplies = []string{"confirm", "confirmed", "yes", "yeah", "yep", "ok", "okay", "see you there"}

var cancelReplies = []string{"cancel", "cancel appointment", "cancel my appointment", "can't make it", "cannot make it"}

var rescheduleReplies = []string{"reschedule", "change time", "new time", "different time", "move my appointment"}

var stopReplies = []string{"stop", "unsubscribe", "no more reminders", "stop reminders"}

func matchesAny(body string, set []string) bool {
	for _, s := range set {
		if body == s {
			return true
		}
	}
	return false
}
