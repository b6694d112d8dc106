// ABOUTME: Message processor orchestration from flushed event to emitted turn.
// ABOUTME: Kind resolution, dedup, sender lookup, gate, pairing, history fold.

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-rocket/internal/debounce"
	"github.com/2389/coven-rocket/internal/dedupe"
	"github.com/2389/coven-rocket/internal/gate"
	"github.com/2389/coven-rocket/internal/metacache"
	"github.com/2389/coven-rocket/internal/pairing"
	"github.com/2389/coven-rocket/internal/protocol"
	"github.com/2389/coven-rocket/internal/rocket"
)

// Cache and history defaults.
const (
	DefaultHistoryLimit = 20
	DefaultDedupTTL     = 10 * time.Minute

	dedupMaxSize = 2048
	roomTTL      = 5 * time.Minute
	userTTL      = 10 * time.Minute
	negativeTTL  = time.Minute
	roomCacheMax = 512
	userCacheMax = 1024
)

// Turn is the normalized inbound unit handed to the external responder,
// the pipeline's sole output contract.
type Turn struct {
	Account        string    `json:"account"`
	ConversationID string    `json:"conversation_id"`
	ThreadID       string    `json:"thread_id,omitempty"`
	Kind           string    `json:"kind"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Mentioned      bool      `json:"mentioned"`
	Authorized     bool      `json:"authorized"`
	History        []string  `json:"history,omitempty"`
}

// Responder receives authorized turns.
type Responder interface {
	Respond(ctx context.Context, turn Turn) error
}

// Directory resolves room and user metadata. *rocket.Client satisfies it.
type Directory interface {
	RoomInfo(ctx context.Context, roomID string) (*rocket.Room, error)
	UserInfo(ctx context.Context, userID string) (*rocket.User, error)
}

// Notifier sends replies back into the chat (pairing codes, command output).
// *rocket.Client satisfies it.
type Notifier interface {
	PostMessage(ctx context.Context, roomID, text, threadID string) error
}

// Pairings is the persisted pairing-approval store. *pairing.Store
// satisfies it.
type Pairings interface {
	Upsert(ctx context.Context, account, sender string) (code string, created bool, err error)
	Approve(ctx context.Context, account, code string) (sender string, err error)
	Approved(ctx context.Context, account string) ([]string, error)
}

// Options configures a processor for one account.
type Options struct {
	Account   string
	Policy    gate.Policy
	Directory Directory
	Notifier  Notifier
	Pairings  Pairings // nil disables pairing side effects
	Responder Responder

	HistoryLimit int
	DedupTTL     time.Duration
	Logger       *slog.Logger
}

// Processor drives one account's pipeline from flushed debounce events to
// emitted turns. Safe for concurrent use; per-account isolation comes from
// namespacing every cache key with the account name.
type Processor struct {
	account   string
	policy    gate.Policy
	directory Directory
	notifier  Notifier
	pairings  Pairings
	responder Responder

	dedupe  *dedupe.Cache
	rooms   *metacache.Cache[rocket.Room]
	users   *metacache.Cache[rocket.User]
	history *history
	logger  *slog.Logger

	mu         sync.Mutex
	selfID     string
	selfHandle string
}

// New creates a processor. The responder is the only mandatory collaborator;
// a nil directory degrades lookups, a nil pairings disables pairing.
func New(opts Options) (*Processor, error) {
	if opts.Account == "" {
		return nil, errors.New("processor: account name required")
	}
	if opts.Responder == nil {
		return nil, errors.New("processor: responder required")
	}

	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	dedupTTL := opts.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "processor", "account", opts.Account)

	return &Processor{
		account:   opts.Account,
		policy:    opts.Policy,
		directory: opts.Directory,
		notifier:  opts.Notifier,
		pairings:  opts.Pairings,
		responder: opts.Responder,
		dedupe:    dedupe.New(dedupTTL, dedupMaxSize),
		rooms:     metacache.New[rocket.Room](roomTTL, negativeTTL, roomCacheMax, logger),
		users:     metacache.New[rocket.User](userTTL, negativeTTL, userCacheMax, logger),
		history:   newHistory(historyLimit),
		logger:    logger,
	}, nil
}

// SetIdentity records the bot's own user id and username so its messages
// are filtered and its handle is mentionable. Called after each login, so
// a credential refresh that lands on a different account updates filtering.
func (p *Processor) SetIdentity(userID, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selfID = userID
	p.selfHandle = username
}

// Handle processes one flushed event end to end. Errors are terminal for
// the event, never for the pipeline; everything is handled in place.
func (p *Processor) Handle(ctx context.Context, ev debounce.Event) {
	if ev.System {
		return
	}

	p.mu.Lock()
	selfID, selfHandle := p.selfID, p.selfHandle
	p.mu.Unlock()
	if ev.SenderID != "" && ev.SenderID == selfID {
		return
	}

	kind := p.resolveKind(ctx, ev)

	if ev.MessageID != "" && p.dedupe.Seen(p.account+"/"+ev.MessageID, time.Now()) {
		p.logger.Debug("duplicate message dropped", "message_id", ev.MessageID)
		return
	}

	senderName, senderHandle := p.resolveSender(ctx, ev)

	pol := p.policy
	if pol.BotHandle == "" {
		pol.BotHandle = selfHandle
	}
	if p.pairings != nil && kind != gate.KindGroup {
		if approved, err := p.pairings.Approved(ctx, p.account); err == nil {
			pol.Paired = approved
		} else {
			p.logger.Debug("pairing snapshot unavailable", "error", err)
		}
	}

	dec := gate.Evaluate(gate.Request{
		SenderID:     ev.SenderID,
		SenderHandle: senderHandle,
		Kind:         kind,
		Text:         ev.Body,
	}, pol)

	if dec.WantsPairing {
		p.requestPairing(ctx, ev, senderHandle)
	}

	key := ev.ConversationKey()
	if !dec.Authorized {
		if dec.RecordHistory && dec.Text != "" {
			p.history.remember(key, senderName+": "+dec.Text)
		}
		p.logger.Debug("message dropped", "reason", dec.Reason, "room", ev.RoomID, "sender", ev.SenderID)
		return
	}

	if dec.CommandAuthorized {
		p.runCommand(ctx, ev, dec.Text)
		return
	}

	text := dec.Text
	for _, a := range ev.Attachments {
		placeholder := "[attachment: " + attachmentLabel(a) + "]"
		if text != "" {
			text += "\n"
		}
		text += placeholder
	}
	if text == "" {
		return
	}

	turn := Turn{
		Account:        p.account,
		ConversationID: ev.RoomID,
		ThreadID:       ev.ThreadID,
		Kind:           kind.String(),
		SenderID:       ev.SenderID,
		SenderName:     senderName,
		Text:           text,
		Timestamp:      ev.Timestamp,
		Mentioned:      dec.Mentioned,
		Authorized:     true,
		History:        p.history.snapshot(key),
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	if err := p.responder.Respond(ctx, turn); err != nil {
		// Keep the turn's text as history so the context survives until a
		// later turn dispatches.
		p.logger.Warn("responder dispatch failed", "error", err, "room", ev.RoomID)
		p.history.remember(key, senderName+": "+text)
		return
	}
	p.history.clear(key)
	p.logger.Info("turn dispatched", "room", ev.RoomID, "kind", turn.Kind, "sender", ev.SenderID)
}

// resolveKind prefers the room type carried on the stream event and falls
// back to a cached room lookup. An unresolvable room stays group, the most
// conservatively gated kind.
func (p *Processor) resolveKind(ctx context.Context, ev debounce.Event) gate.Kind {
	if ev.RoomType != "" {
		return gate.KindFromRoomType(ev.RoomType)
	}
	if p.directory == nil || ev.RoomID == "" {
		return gate.KindGroup
	}
	room := p.rooms.GetOrFetch(ctx, p.account+"/"+ev.RoomID, func(ctx context.Context) (*rocket.Room, error) {
		return p.directory.RoomInfo(ctx, ev.RoomID)
	})
	if room == nil {
		return gate.KindGroup
	}
	return gate.KindFromRoomType(room.Type)
}

// resolveSender fills in display name and handle from the user cache when
// the event doesn't carry them, degrading to the raw sender id.
func (p *Processor) resolveSender(ctx context.Context, ev debounce.Event) (name, handle string) {
	name, handle = ev.SenderName, ev.SenderHandle
	if (name == "" || handle == "") && p.directory != nil && ev.SenderID != "" {
		user := p.users.GetOrFetch(ctx, p.account+"/"+ev.SenderID, func(ctx context.Context) (*rocket.User, error) {
			return p.directory.UserInfo(ctx, ev.SenderID)
		})
		if user != nil {
			if handle == "" {
				handle = user.Username
			}
			if name == "" {
				name = user.Name
			}
		}
	}
	if name == "" {
		name = handle
	}
	if name == "" {
		name = ev.SenderID
	}
	return name, handle
}

// requestPairing runs the pairing side effect: idempotent upsert, and a
// one-time code reply only when the request is new.
func (p *Processor) requestPairing(ctx context.Context, ev debounce.Event, senderHandle string) {
	if p.pairings == nil {
		return
	}
	sender := senderHandle
	if sender == "" {
		sender = ev.SenderID
	}

	code, created, err := p.pairings.Upsert(ctx, p.account, sender)
	if err != nil {
		p.logger.Warn("pairing upsert failed", "error", err, "sender", sender)
		return
	}
	if !created {
		p.logger.Debug("pairing already pending", "sender", sender, "code", code)
		return
	}
	if p.notifier == nil {
		return
	}

	msg := fmt.Sprintf("This conversation requires pairing. Your code is %s. Ask an operator to approve it with /pair %s.", code, code)
	if err := p.notifier.PostMessage(ctx, ev.RoomID, msg, ev.ThreadID); err != nil {
		p.logger.Warn("pairing reply failed", "error", err, "room", ev.RoomID)
	}
}

// runCommand executes an authorized control command locally; commands never
// reach the responder.
func (p *Processor) runCommand(ctx context.Context, ev debounce.Event, text string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])

	p.mu.Lock()
	selfHandle := p.selfHandle
	p.mu.Unlock()

	var reply string
	switch name {
	case "help":
		reply = "Commands: /help, /status, /reset, /pair <code>"
	case "status":
		reply = "Online"
		if selfHandle != "" {
			reply = "Online as @" + selfHandle
		}
	case "reset":
		p.history.clear(ev.ConversationKey())
		reply = "Conversation history cleared."
	case "pair":
		reply = p.approvePairing(ctx, fields[1:])
	}
	if reply == "" || p.notifier == nil {
		return
	}
	if err := p.notifier.PostMessage(ctx, ev.RoomID, reply, ev.ThreadID); err != nil {
		p.logger.Warn("command reply failed", "error", err, "room", ev.RoomID)
	}
}

func (p *Processor) approvePairing(ctx context.Context, args []string) string {
	if p.pairings == nil {
		return "Pairing is not configured."
	}
	if len(args) == 0 {
		return "Usage: /pair <code>"
	}

	sender, err := p.pairings.Approve(ctx, p.account, args[0])
	switch {
	case errors.Is(err, pairing.ErrCodeNotFound):
		return "Unknown pairing code."
	case err != nil:
		p.logger.Warn("pairing approval failed", "error", err)
		return "Pairing approval failed."
	}
	return "Paired with " + sender + "."
}

func attachmentLabel(a protocol.Attachment) string {
	switch {
	case a.Title != "":
		return a.Title
	case a.Description != "":
		return a.Description
	case a.ImageURL != "":
		return "image"
	}
	return "file"
}
