// Package classify assigns an attention label to each inbound platform
// message. The label decides how the message is presented to the agent and
// which respond toggle gates it.
package classify

// Label describes why an inbound message warrants the agent's attention.
type Label string

const (
	// DirectMessage is a message in a private chat (no enclosing group).
	DirectMessage Label = "dm"
	// Mention is a group message that @mentions the bot, or a reply to
	// someone other than the bot.
	Mention Label = "mention"
	// Reply is a reply whose referenced message was authored by the bot.
	Reply Label = "reply"
	// Generic is any other group message.
	Generic Label = "generic"
)

// quoteMaxLen is the hard cap on the quoted original when rewriting
// reply-to-bot payloads. Originals beyond the cap are truncated with a
// trailing "..." replacing the final 3 characters.
const quoteMaxLen = 100

// Event is the platform-agnostic view of one inbound message, built by the
// channel adapter before classification.
type Event struct {
	Text         string // raw message text
	IsDirect     bool   // private chat, no enclosing group
	IsReply      bool   // carries a reply reference
	ReplyToSelf  bool   // the referenced message was authored by the bot
	MentionsSelf bool   // the bot is @mentioned
	ReplyQuote   string // text of the referenced message, when available
}

// Apply classifies ev and returns the label together with the payload that
// should reach the agent. For replies to the bot the payload is rewritten
// to lead with a truncated quote of the bot's original message; the raw
// event text is never mutated.
func Apply(ev Event) (Label, string) {
	label := Classify(ev)
	if label == Reply {
		return label, QuotePrefix(ev.ReplyQuote) + ev.Text
	}
	return label, ev.Text
}

// Classify maps an event to exactly one label. Priority order:
// direct message > reply-to-bot > mention/other-reply > generic.
func Classify(ev Event) Label {
	switch {
	case ev.IsDirect:
		return DirectMessage
	case ev.IsReply && ev.ReplyToSelf:
		return Reply
	case ev.MentionsSelf || ev.IsReply:
		return Mention
	default:
		return Generic
	}
}

// QuotePrefix renders the replied-to text as a bracketed quote line,
// truncated to quoteMaxLen characters.
func QuotePrefix(quote string) string {
	return "[replying to: \"" + TruncateQuote(quote) + "\"]\n"
}

// TruncateQuote caps s at quoteMaxLen characters, replacing the final 3
// with "...". The cap counts runes, not bytes, so multi-byte text is never
// cut mid-character.
func TruncateQuote(s string) string {
	runes := []rune(s)
	if len(runes) <= quoteMaxLen {
		return s
	}
	return string(runes[:quoteMaxLen-3]) + "..."
}

// Provenance returns the human-readable prefix used when enumerating
// batched messages for the agent.
func (l Label) Provenance() string {
	switch l {
	case DirectMessage:
		return "sent you a DM"
	case Mention:
		return "mentioned you"
	case Reply:
		return "replied to you"
	default:
		return ""
	}
}
