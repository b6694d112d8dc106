// ABOUTME: Per-account pipeline wiring: client, coalescer, processor, supervisor
// ABOUTME: One provider runs one account's connection lifecycle to completion

package main

import (
	"context"
	"log/slog"

	"github.com/2389/coven-rocket/internal/config"
	"github.com/2389/coven-rocket/internal/debounce"
	"github.com/2389/coven-rocket/internal/processor"
	"github.com/2389/coven-rocket/internal/protocol"
	"github.com/2389/coven-rocket/internal/realtime"
	"github.com/2389/coven-rocket/internal/rocket"
)

// provider owns one account's pipeline. Run blocks until the context is
// canceled; the supervisor inside keeps the connection alive across failures.
type provider struct {
	name    string
	account config.AccountConfig
	client  *rocket.Client
	proc    *processor.Processor
	logger  *slog.Logger
}

func newProvider(account config.AccountConfig, resp processor.Responder, pairings processor.Pairings, logger *slog.Logger) (*provider, error) {
	logger = logger.With("account", account.Name)

	client, err := rocket.NewClient(account.URL, logger)
	if err != nil {
		return nil, err
	}
	if account.AuthToken != "" {
		client.SetCredential(rocket.Credential{UserID: account.UserID, Token: account.AuthToken})
	}

	proc, err := processor.New(processor.Options{
		Account:      account.Name,
		Policy:       account.GatePolicy(),
		Directory:    client,
		Notifier:     client,
		Pairings:     pairings,
		Responder:    resp,
		HistoryLimit: account.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	proc.SetIdentity(account.UserID, identityHandle(account))

	return &provider{
		name:    account.Name,
		account: account,
		client:  client,
		proc:    proc,
		logger:  logger,
	}, nil
}

// Run drives the supervisor until ctx is canceled.
func (p *provider) Run(ctx context.Context) error {
	pol := p.account.GatePolicy()
	isControl := func(text string) bool {
		_, ok := pol.Command(text)
		return ok
	}

	coal := debounce.New(p.account.DebounceWindow, func(ev debounce.Event) {
		p.proc.Handle(ctx, ev)
	}, isControl, p.logger)
	defer coal.Close()

	attempt := func(ctx context.Context, credential string) (realtime.Outcome, error) {
		return realtime.Connect(ctx, realtime.Options{
			Endpoint:        p.client.RealtimeEndpoint(),
			WatchdogTimeout: p.account.WatchdogTimeout,
			PingInterval:    p.account.PingInterval,
			Logger:          p.logger,
		}, credential, realtime.Callbacks{
			OnMessage: func(ev *protocol.StreamEvent) {
				coal.Enqueue(p.eventFromStream(ev))
			},
			OnError: func(err error) {
				p.logger.Warn("connection error", "error", err)
			},
		})
	}

	var refresh realtime.RefreshFunc
	if p.account.Username != "" && p.account.Password != "" {
		refresh = func(ctx context.Context) (string, error) {
			cred, err := p.client.Login(ctx, p.account.Username, p.account.Password)
			if err != nil {
				return "", err
			}
			p.proc.SetIdentity(cred.UserID, identityHandle(p.account))
			return cred.Token, nil
		}
	}

	sup := realtime.NewSupervisor(attempt, refresh, p.account.AuthToken, realtime.SupervisorOptions{
		InitialBackoff: p.account.InitialBackoff,
		MaxBackoff:     p.account.MaxBackoff,
		Logger:         p.logger,
	})
	return sup.Run(ctx)
}

// eventFromStream maps a decoded stream event onto the pipeline's event type.
func (p *provider) eventFromStream(ev *protocol.StreamEvent) debounce.Event {
	msg := ev.Message
	return debounce.Event{
		Account:      p.name,
		RoomID:       msg.RoomID,
		RoomType:     ev.Meta.RoomType,
		ThreadID:     msg.ThreadID,
		MessageID:    msg.ID,
		SenderID:     msg.User.ID,
		SenderName:   msg.User.Name,
		SenderHandle: msg.User.Username,
		Body:         msg.Body,
		Attachments:  msg.Attachments,
		Timestamp:    msg.Timestamp.Time,
		System:       msg.IsSystem(),
	}
}

// identityHandle picks the mentionable handle for the bot's own account.
func identityHandle(account config.AccountConfig) string {
	if account.BotHandle != "" {
		return account.BotHandle
	}
	return account.Username
}
