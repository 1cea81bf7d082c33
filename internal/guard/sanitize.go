// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package guard gates every command argument before it reaches a handler:
// sanitization, per-class pattern and length validation, mention-aware
// parsing, and per-user sliding-window rate limiting.
package guard

import (
	"strings"
)

// MentionPlaceholder is the non-semantic substitution character the
// messaging network inserts where a mention appears in message text. The
// real identifier is carried in the mention-span list, so text following the
// placeholder is exempt from free-text validation.
const MentionPlaceholder = '￼'

// Per-class maximum lengths.
const (
	MaxTokenLen      = 32
	MaxIdentifierLen = 64
	MaxURLLen        = 2048
	MaxFreeTextLen   = 1024
)

// shellAndMarkupChars have special meaning to a shell or markup context and
// are stripped from free-text arguments.
const shellAndMarkupChars = "`$;|&<>\\\"'{}"

// Sanitize strips shell/markup metacharacters and control characters from a
// free-text argument. Newlines and tabs collapse to single spaces.
func Sanitize(s string) string {
	return strings.TrimSpace(strip(s))
}

func strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case strings.ContainsRune(shellAndMarkupChars, r):
			// dropped
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r < 0x20:
			// other control characters dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeFreeText applies Sanitize with mention awareness: only the
// portion before the first mention placeholder is stripped. The tail is
// kept verbatim; its identifier comes from the mention-span list.
func SanitizeFreeText(s string) string {
	head, tail, found := SplitAtMention(s)
	if !found {
		return Sanitize(s)
	}
	return strip(head) + tail
}

// SanitizeArgs strips metacharacters from each argument token up to the
// first mention placeholder; tokens from the placeholder onward are kept
// verbatim. Tokens emptied by stripping are dropped.
func SanitizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	exempt := false
	for _, arg := range args {
		if exempt {
			out = append(out, arg)
			continue
		}
		head, tail, found := SplitAtMention(arg)
		if found {
			exempt = true
			out = append(out, strip(head)+tail)
			continue
		}
		if cleaned := Sanitize(arg); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// SplitAtMention splits text at the first mention placeholder. The head is
// subject to free-text validation; the tail (including the placeholder) is
// exempt because the real identifier comes from the mention-span list.
func SplitAtMention(s string) (head, tail string, found bool) {
	idx := strings.IndexRune(s, MentionPlaceholder)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx:], true
}

// ParsedMessage is the command-shaped view of an inbound message. Only the
// first line is parsed for a command name and arguments; subsequent lines
// are trailing context, never re-parsed as additional commands.
type ParsedMessage struct {
	// Command is the leading token without its prefix, lowercased. Empty if
	// the message is natural text.
	Command string

	// Args are the remaining first-line tokens.
	Args []string

	// Trailing is everything after the first line, verbatim.
	Trailing string
}

// CommandPrefix marks a message as a command.
const CommandPrefix = "!"

// ParseMessage classifies a message as command or natural text and splits
// the first line into command name and arguments.
func ParseMessage(text string) ParsedMessage {
	firstLine := text
	var trailing string
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
		trailing = text[idx+1:]
	}

	firstLine = strings.TrimSpace(firstLine)
	if !strings.HasPrefix(firstLine, CommandPrefix) {
		return ParsedMessage{Trailing: trailing}
	}

	fields := strings.Fields(strings.TrimPrefix(firstLine, CommandPrefix))
	if len(fields) == 0 {
		return ParsedMessage{Trailing: trailing}
	}

	return ParsedMessage{
		Command:  strings.ToLower(fields[0]),
		Args:     fields[1:],
		Trailing: trailing,
	}
}
