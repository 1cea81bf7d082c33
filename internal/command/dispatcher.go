// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/gateway"
	"github.com/irregularchat/signalbridge/internal/guard"
	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
	"github.com/irregularchat/signalbridge/internal/roster"
	"github.com/irregularchat/signalbridge/internal/rpc"
)

const commandPrefix = guard.CommandPrefix

// envelopeTopic is the in-process topic inbound envelopes fan out on.
const envelopeTopic = "inbound.envelopes"

// Messenger is the outbound transport surface the dispatcher replies
// through. *rpc.Client satisfies it.
type Messenger interface {
	SendDirectMessage(ctx context.Context, recipient, text string) error
	SendGroupMessage(ctx context.Context, groupID, text string) error
}

// Auditor persists usage records. *gateway.Gateway satisfies it.
type Auditor interface {
	Append(ctx context.Context, rec *gateway.Record) error
}

// Config holds dispatcher tuning.
type Config struct {
	// Workers is the number of concurrent envelope processors.
	// Default: 4
	Workers int

	// HandlerTimeout bounds one handler execution. Default: 60s
	HandlerTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 60 * time.Second
	}
}

// Dispatcher classifies inbound envelopes, gates them through validation,
// rate limiting, and permission predicates, and invokes the matching
// handler. Independent envelopes are processed concurrently; handler panics
// are converted into a rejection plus an audit record and never reach the
// transport read loop.
type Dispatcher struct {
	cfg       Config
	registry  *Registry
	roster    *roster.Cache
	limiter   *guard.RateLimiter
	messenger Messenger
	auditor   Auditor
	pubsub    *gochannel.GoChannel
	log       zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewDispatcher wires a dispatcher over its collaborators.
func NewDispatcher(cfg Config, reg *Registry, cache *roster.Cache, limiter *guard.RateLimiter, messenger Messenger, auditor Auditor) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:       cfg,
		registry:  reg,
		roster:    cache,
		limiter:   limiter,
		messenger: messenger,
		auditor:   auditor,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logging.NewSlogLogger()),
		),
		log:   logging.With().Str("component", "dispatcher").Logger(),
		ready: make(chan struct{}),
	}
}

// Serve consumes envelopes from the transport's notification channel and
// fans them out to worker subscribers until the context is canceled.
// Implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	defer func() {
		if err := d.pubsub.Close(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to close pubsub")
		}
	}()

	messages, err := d.pubsub.Subscribe(ctx, envelopeTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to envelope topic: %w", err)
	}

	for i := 0; i < d.cfg.Workers; i++ {
		go d.worker(ctx, messages)
	}
	d.readyOnce.Do(func() { close(d.ready) })

	<-ctx.Done()
	return ctx.Err()
}

// Ready is closed once the fan-out subscription is live. Envelopes enqueued
// before readiness are dropped by the in-process pub/sub, so producers
// should wait on it.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// String implements fmt.Stringer for supervision logs.
func (d *Dispatcher) String() string { return "dispatcher" }

// Enqueue publishes one inbound envelope for processing. Called by the
// transport consumer; safe for concurrent use.
func (d *Dispatcher) Enqueue(env *rpc.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := d.pubsub.Publish(envelopeTopic, msg); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// worker drains the subscription, processing one envelope at a time.
func (d *Dispatcher) worker(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		var env rpc.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			d.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable envelope")
			msg.Ack()
			continue
		}
		d.Process(ctx, &env)
		msg.Ack()
	}
}

// Process walks one envelope through classification, validation, permission
// checks, and dispatch. Exported for direct use in tests and for callers
// that bypass the fan-out.
func (d *Dispatcher) Process(ctx context.Context, env *rpc.Envelope) {
	if env == nil || env.DataMessage == nil || env.DataMessage.Message == "" {
		return
	}

	parsed := guard.ParseMessage(env.DataMessage.Message)
	if parsed.Command == "" {
		// Natural text is not command work.
		metrics.DispatchTotal.WithLabelValues("none", "natural_text").Inc()
		return
	}

	inv := d.buildInvocation(env, parsed)
	start := time.Now()
	reply, errClass, err := d.dispatch(ctx, parsed.Command, inv)
	latency := time.Since(start)

	outcome := "completed"
	if err != nil {
		outcome = "rejected"
		reply = userFacing(err)
	}
	metrics.DispatchTotal.WithLabelValues(parsed.Command, outcome).Inc()
	metrics.DispatchDuration.WithLabelValues(parsed.Command).Observe(latency.Seconds())

	if reply != "" {
		d.reply(ctx, inv, reply)
	}
	d.audit(ctx, parsed.Command, inv, err == nil, latency, errClass)

	// Membership mutations additionally leave an audit-kind record carrying
	// the argument detail, separate from the usage log.
	if cmd, ok := d.registry.Lookup(parsed.Command); ok && cmd.Class == guard.ClassMembership {
		d.auditMutation(ctx, parsed.Command, inv, err == nil, latency, errClass)
	}
}

// dispatch runs the gate sequence for one classified command. It returns
// the handler reply, or an error whose class is named by errClass.
func (d *Dispatcher) dispatch(ctx context.Context, name string, inv *Invocation) (reply, errClass string, err error) {
	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return "", "UnknownCommand", &UnknownCommandError{Name: name}
	}

	// Validated: free text is checked once here with the mention
	// exemption; typed arguments are checked again by each handler.
	argText := strings.Join(inv.Args, " ")
	if err := guard.ValidateFreeText(argText); err != nil {
		return "", "ValidationFailed", err
	}
	// Stripped before the handler runs: shell/markup metacharacters never
	// reach handler output or downstream prompts. The mention tail stays
	// verbatim.
	inv.Args = guard.SanitizeArgs(inv.Args)
	inv.Trailing = guard.SanitizeFreeText(inv.Trailing)

	if err := d.limiter.Allow(inv.Actor, cmd.Class); err != nil {
		return "", "RateLimited", err
	}

	if err := checkPermissions(cmd, inv); err != nil {
		return "", "PermissionDenied", err
	}

	reply, err = d.invoke(ctx, cmd, inv)
	if err != nil {
		errClass = "HandlerError"
		var usage *UsageError
		var denied *PermissionDeniedError
		var validation *guard.ValidationError
		var unknownGroup *UnknownGroupError
		switch {
		case errors.As(err, &usage), errors.As(err, &validation), errors.As(err, &unknownGroup):
			errClass = "ValidationFailed"
		case errors.As(err, &denied):
			errClass = "PermissionDenied"
		}
		return "", errClass, err
	}
	return reply, "", nil
}

// invoke runs the handler under a timeout with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, inv *Invocation) (reply string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("command", cmd.Name).
				Str("actor", inv.Actor).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Handler panicked")
			reply = ""
			err = fmt.Errorf("command %s%s failed unexpectedly", commandPrefix, cmd.Name)
		}
	}()

	return cmd.Handler(ctx, inv)
}

func checkPermissions(cmd *Command, inv *Invocation) error {
	inGroup := inv.RawGroupID != ""
	switch {
	case cmd.GroupOnly && !inGroup:
		return &PermissionDeniedError{Name: cmd.Name, Reason: "this command only works inside a group"}
	case cmd.DMOnly && inGroup:
		return &PermissionDeniedError{Name: cmd.Name, Reason: "this command only works in a direct message"}
	case cmd.AdminOnly:
		if inv.Group == nil || !inv.Group.IsAdmin(inv.Actor) {
			return &PermissionDeniedError{Name: cmd.Name, Reason: "group admin access required"}
		}
	}
	return nil
}

func (d *Dispatcher) buildInvocation(env *rpc.Envelope, parsed guard.ParsedMessage) *Invocation {
	inv := &Invocation{
		Actor:     env.Sender(),
		ActorName: env.SourceName,
		Args:      parsed.Args,
		Trailing:  parsed.Trailing,
		Mentions:  env.DataMessage.Mentions,
	}
	if gi := env.DataMessage.GroupInfo; gi != nil && gi.GroupID != "" {
		inv.RawGroupID = gi.GroupID
		if group, ok := d.roster.Resolve(gi.GroupID); ok {
			inv.Group = group
		}
	}
	return inv
}

// reply sends the response back where the command came from. Internal
// detail never reaches the sender; failures to reply are logged only.
func (d *Dispatcher) reply(ctx context.Context, inv *Invocation, text string) {
	var err error
	if inv.RawGroupID != "" {
		target := inv.RawGroupID
		if inv.Group != nil {
			target = inv.Group.CanonicalID
		}
		err = d.messenger.SendGroupMessage(ctx, target, text)
	} else {
		err = d.messenger.SendDirectMessage(ctx, inv.Actor, text)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("actor", inv.Actor).Msg("Failed to send reply")
	}
}

func (d *Dispatcher) audit(ctx context.Context, name string, inv *Invocation, success bool, latency time.Duration, errClass string) {
	groupID := ""
	if inv.Group != nil {
		groupID = inv.Group.CanonicalID
	}
	rec := &gateway.Record{
		Kind:       gateway.KindUsage,
		Command:    name,
		Actor:      inv.Actor,
		GroupID:    groupID,
		Success:    success,
		LatencyMs:  latency.Milliseconds(),
		ErrorClass: errClass,
	}
	if err := d.auditor.Append(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("command", name).Msg("Failed to persist usage record")
	}
}

func (d *Dispatcher) auditMutation(ctx context.Context, name string, inv *Invocation, success bool, latency time.Duration, errClass string) {
	groupID := ""
	if inv.Group != nil {
		groupID = inv.Group.CanonicalID
	}
	rec := &gateway.Record{
		Kind:       gateway.KindAudit,
		Command:    name,
		Actor:      inv.Actor,
		GroupID:    groupID,
		Success:    success,
		LatencyMs:  latency.Milliseconds(),
		ErrorClass: errClass,
		Detail:     strings.Join(inv.Args, " "),
	}
	if err := d.auditor.Append(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("command", name).Msg("Failed to persist audit record")
	}
}

// userFacing maps an internal error onto the sender-visible message. Typed
// rejections carry safe messages; anything else is generalized so internal
// detail stays in the audit log.
func userFacing(err error) string {
	var (
		unknown      *UnknownCommandError
		denied       *PermissionDeniedError
		usage        *UsageError
		unknownGroup *UnknownGroupError
		validation   *guard.ValidationError
		limited      *guard.RateLimitError
	)
	switch {
	case errors.As(err, &unknown):
		return unknown.Error()
	case errors.As(err, &denied):
		return denied.Error()
	case errors.As(err, &usage):
		return usage.Error()
	case errors.As(err, &unknownGroup):
		return unknownGroup.Error()
	case errors.As(err, &validation):
		return "That didn't look right: " + validation.Message
	case errors.As(err, &limited):
		return fmt.Sprintf("Slow down. Try again in %s.", limited.Cooldown.Round(time.Second))
	default:
		return "Something went wrong running that command. It has been logged."
	}
}
