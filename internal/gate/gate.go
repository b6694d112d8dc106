// ABOUTME: Pure access-control decision logic for inbound chat messages.
// ABOUTME: DM/group policies, allow-lists, mention gating, trigger prefixes, commands.

package gate

import (
	"regexp"
	"strings"

	"github.com/2389/coven-rocket/internal/protocol"
)

// Kind classifies a conversation for policy purposes.
type Kind int

const (
	KindGroup Kind = iota
	KindDirect
	KindLivechat
)

// String returns the kind name for logging and emitted turns.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindLivechat:
		return "livechat"
	default:
		return "group"
	}
}

// KindFromRoomType maps a wire room-type marker to a policy kind.
// Unrecognized markers fall back to group, the most conservatively gated
// kind, so a failed room lookup degrades rather than opening access.
func KindFromRoomType(t string) Kind {
	switch t {
	case protocol.RoomTypeDirect:
		return KindDirect
	case protocol.RoomTypeLivechat:
		return KindLivechat
	default:
		return KindGroup
	}
}

// DirectPolicy controls who may converse in direct messages.
type DirectPolicy string

const (
	DirectDisabled  DirectPolicy = "disabled"
	DirectPairing   DirectPolicy = "pairing"
	DirectAllowlist DirectPolicy = "allowlist"
	DirectOpen      DirectPolicy = "open"
)

// GroupPolicy controls who may trigger responses in channels and groups.
type GroupPolicy string

const (
	GroupDisabled  GroupPolicy = "disabled"
	GroupAllowlist GroupPolicy = "allowlist"
	GroupOpen      GroupPolicy = "open"
)

// DefaultTriggerPrefixes are the prefix-mode triggers used when none are
// configured.
var DefaultTriggerPrefixes = []string{">", "!"}

// DefaultCommands is the recognized control-command vocabulary.
var DefaultCommands = []string{"help", "status", "reset", "pair"}

// Policy is the access configuration evaluated against each message.
// Paired carries the pairing-store snapshot, unioned with DirectAllow for
// direct conversations.
type Policy struct {
	Direct      DirectPolicy
	Group       GroupPolicy
	DirectAllow []string
	GroupAllow  []string
	Paired      []string

	BotHandle       string
	Mentions        []*regexp.Regexp
	RequireMention  bool
	PrefixMode      bool
	TriggerPrefixes []string

	// EnforceAllowlist gates control-command authorization; when false any
	// sender may issue commands.
	EnforceAllowlist bool
	// CommandBypass lets an authorized control command pass mention gating.
	CommandBypass bool
	Commands      []string
}

// Request is the per-message input to Evaluate. System-originated messages
// and the bot's own messages are filtered before the gate and never appear
// here.
type Request struct {
	SenderID     string
	SenderHandle string
	Kind         Kind
	Text         string
}

// Decision is the gate's output, computed fresh per message.
type Decision struct {
	Authorized bool
	Reason     string

	// Text is the processed body: trimmed, with mention markers or the
	// matched trigger prefix stripped.
	Text      string
	Mentioned bool

	// WantsPairing asks the caller to run the pairing side effect (idempotent
	// upsert plus a one-time code reply). The current message stays dropped.
	WantsPairing bool

	// RecordHistory marks a dropped group message that should still be folded
	// into rolling conversation history for future context.
	RecordHistory bool

	// CommandAuthorized reports that Text is a recognized control command the
	// sender is allowed to issue.
	CommandAuthorized bool
}

// Evaluate applies the access rules to one message. It is a pure function of
// its inputs; all side effects (pairing replies, history recording) are
// requested via the decision flags.
func Evaluate(req Request, pol Policy) Decision {
	kind := req.Kind
	if kind == KindLivechat {
		// Livechat guests are gated like DM senders. Product policy, not an
		// implementation detail.
		kind = KindDirect
	}

	dec := Decision{Text: strings.TrimSpace(req.Text)}
	_, isCmd := pol.Command(dec.Text)

	if kind == KindDirect {
		return evaluateDirect(req, pol, dec, isCmd)
	}
	return evaluateGroup(req, pol, dec, isCmd)
}

func evaluateDirect(req Request, pol Policy, dec Decision, isCmd bool) Decision {
	allowed := matchSender(req, append(append([]string{}, pol.DirectAllow...), pol.Paired...))

	switch pol.Direct {
	case DirectOpen:
	case DirectAllowlist:
		if !allowed {
			dec.Reason = "sender not in direct allow-list"
			return dec
		}
	case DirectPairing:
		if !allowed {
			dec.Reason = "pairing required"
			dec.WantsPairing = true
			return dec
		}
	default: // DirectDisabled and anything unrecognized
		dec.Reason = "direct messages disabled"
		return dec
	}

	dec.Text, dec.Mentioned = stripMention(dec.Text, pol)
	if !isCmd {
		// A mention marker may have hidden the slash.
		_, isCmd = pol.Command(dec.Text)
	}
	dec.CommandAuthorized = isCmd && pol.commandAuthorized(req, KindDirect)
	dec.Authorized = true
	return dec
}

func evaluateGroup(req Request, pol Policy, dec Decision, isCmd bool) Decision {
	switch pol.Group {
	case GroupOpen:
	case GroupAllowlist:
		if len(pol.GroupAllow) == 0 {
			dec.Reason = "group allow-list is empty"
			return dec
		}
		if !matchSender(req, pol.GroupAllow) {
			dec.Reason = "sender not in group allow-list"
			return dec
		}
	default: // GroupDisabled and anything unrecognized
		dec.Reason = "group messages disabled"
		return dec
	}

	stripped, mentioned := stripMention(dec.Text, pol)
	if !isCmd {
		// A mention marker may have hidden the slash.
		_, isCmd = pol.Command(stripped)
	}
	dec.CommandAuthorized = isCmd && pol.commandAuthorized(req, KindGroup)

	if pol.RequireMention && pol.CanDetectMentions() {
		switch {
		case mentioned:
			dec.Text = stripped
			dec.Mentioned = true
		case dec.CommandAuthorized && pol.CommandBypass:
			// Authorized control commands skip mention gating.
		case pol.PrefixMode:
			trimmed, ok := stripPrefix(dec.Text, pol.prefixes())
			if !ok {
				dec.Reason = "mention required"
				dec.RecordHistory = true
				return dec
			}
			dec.Text = trimmed
		default:
			dec.Reason = "mention required"
			dec.RecordHistory = true
			return dec
		}
	} else if mentioned {
		dec.Text = stripped
		dec.Mentioned = true
	}

	dec.Authorized = true
	return dec
}

// Command reports whether text is a recognized control command
// (slash-prefixed first token from the configured vocabulary).
func (p Policy) Command(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	name := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
	commands := p.Commands
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	for _, c := range commands {
		if name == c {
			return name, true
		}
	}
	return "", false
}

// CanDetectMentions reports whether mention gating is enforceable: either a
// bot handle is known or mention patterns are configured. When neither is
// available, group messages are not silently dropped.
func (p Policy) CanDetectMentions() bool {
	return p.BotHandle != "" || len(p.Mentions) > 0
}

// commandAuthorized checks rule 5: sender must match the applicable
// allow-list for the conversation kind, unless enforcement is disabled.
func (p Policy) commandAuthorized(req Request, kind Kind) bool {
	if !p.EnforceAllowlist {
		return true
	}
	if kind == KindDirect {
		return matchSender(req, append(append([]string{}, p.DirectAllow...), p.Paired...))
	}
	return matchSender(req, p.GroupAllow)
}

func (p Policy) prefixes() []string {
	if len(p.TriggerPrefixes) > 0 {
		return p.TriggerPrefixes
	}
	return DefaultTriggerPrefixes
}

// Normalize lowercases an allow-list entry and strips a leading @ so config
// entries, usernames, and ids compare consistently.
func Normalize(entry string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(entry), "@"))
}

// matchSender reports whether the sender's id or handle appears in the
// normalized allow-list.
func matchSender(req Request, allow []string) bool {
	id := Normalize(req.SenderID)
	handle := Normalize(req.SenderHandle)
	for _, entry := range allow {
		n := Normalize(entry)
		if n == "" {
			continue
		}
		if n == id || (handle != "" && n == handle) {
			return true
		}
	}
	return false
}

// stripMention detects a bot mention and removes the @handle marker from the
// text. Configured patterns count as mentions but are left in place; they
// are triggers, not markers.
func stripMention(text string, pol Policy) (string, bool) {
	if pol.BotHandle != "" {
		re := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(pol.BotHandle) + `\b:? ?`)
		if re.MatchString(text) {
			return strings.TrimSpace(re.ReplaceAllString(text, "")), true
		}
	}
	for _, re := range pol.Mentions {
		if re != nil && re.MatchString(text) {
			return text, true
		}
	}
	return text, false
}

// stripPrefix removes the first matching trigger prefix.
func stripPrefix(text string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix)), true
		}
	}
	return text, false
}
