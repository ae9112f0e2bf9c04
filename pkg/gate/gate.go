// Package gate implements the per-utterance speaker gate that decides
// whether a scripted persona is allowed to produce a reply.
package gate

import "strings"

// triggerName is the name that flips the two gates: alex speaks only when
// it appears in the utterance, priya stays silent while it does. Matching is
// an unanchored substring check, so "alexander" counts as a mention.
const triggerName = "alex"

// ShouldRespond reports whether the named persona may respond to the given
// utterance. It is applied identically to speech transcripts and chat
// messages. A false result means the reply pipeline is skipped entirely:
// no text, no audio, no filler acknowledgment.
//
// Unknown persona names never respond.
func ShouldRespond(personaName, utterance string) bool {
	mentioned := strings.Contains(strings.ToLower(utterance), triggerName)

	switch personaName {
	case "alex":
		return mentioned
	case "priya":
		return !mentioned
	default:
		return false
	}
}
