package dispatch

import "strings"

// Policy is the channel-scoped response rule: the relay hears every allowed
// channel but speaks only in the configured respond channel, when one is
// set. It is evaluated at dispatch time, never cached per event.
type Policy struct {
	respondChannel string
}

// NewPolicy creates a policy. Empty respondChannel means the relay may
// respond everywhere.
func NewPolicy(respondChannel string) *Policy {
	return &Policy{respondChannel: respondChannel}
}

// CanRespond reports whether generated replies may be emitted to chatKey.
// This is the single shared predicate for both the batched and immediate
// dispatch paths. chatKey is either a bare chat ID or a channel-qualified
// "channel:chatID" key; the configured respond channel may be written in
// either form.
func (p *Policy) CanRespond(chatKey string) bool {
	if p.respondChannel == "" {
		return true
	}
	if chatKey == p.respondChannel {
		return true
	}
	if idx := strings.IndexByte(chatKey, ':'); idx >= 0 {
		return chatKey[idx+1:] == p.respondChannel
	}
	return false
}
