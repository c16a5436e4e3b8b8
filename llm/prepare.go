package llm

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/i2y/marengo/provider"
)

// Prepare turns a conversation's messages into the list sent to a provider
// with the given capabilities. The input is not modified.
//
// The steps run in a fixed order: dynamic system message, time awareness,
// removal of deleted messages, removal of earlier function traffic (when
// configured), pin ordering, windowing, system role conversion and merging
// of consecutive messages.
func Prepare(ctx context.Context, messages []Message, opts *Options, caps provider.Capabilities) []Message {
	msgs := slices.Clone(messages)

	if opts.SystemMessage != nil {
		if text := opts.SystemMessage(ctx); text != "" {
			msgs = slices.Insert(msgs, 0, Pinned(SystemMessage(text), PinBegin))
		}
	}

	if opts.TimeAware {
		now := opts.Clock()
		msgs = append(msgs, Pinned(SystemMessage("Current date and time: "+now.Format(time.RFC1123)), PinEnd))
	}

	msgs = slices.DeleteFunc(msgs, func(m Message) bool { return m.Deleted })

	if opts.IgnorePreviousFunctionCalls {
		msgs = dropPreviousFunctionCalls(msgs)
	}

	slices.SortStableFunc(msgs, func(a, b Message) int {
		return pinRank(a.Pin) - pinRank(b.Pin)
	})

	msgs = applyWindow(msgs, opts.MessageLimit, opts.CharacterLimit)

	if !caps.SystemRole {
		for i := range msgs {
			if msgs[i].Role == RoleSystem {
				msgs[i].Role = RoleUser
			}
		}
	}

	if caps.MergeConsecutive {
		msgs = mergeConsecutive(msgs)
	}

	return msgs
}

func pinRank(p PinLocation) int {
	switch p {
	case PinBegin:
		return 0
	case PinEnd:
		return 2
	default:
		return 1
	}
}

func isFunctionTraffic(m Message) bool {
	return len(m.FunctionCalls) > 0 || m.FunctionResult != nil
}

// dropPreviousFunctionCalls removes function calls and results that come
// before the most recent user message.
func dropPreviousFunctionCalls(msgs []Message) []Message {
	lastUser := -1
	for i, m := range msgs {
		if m.Role == RoleUser {
			lastUser = i
		}
	}
	if lastUser <= 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if i < lastUser && isFunctionTraffic(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyWindow drops the oldest unpinned, non-system messages until both
// limits are met. A call message leaves together with its results, and is
// kept when one of its results is pinned. Results whose call message stays
// are never dropped on their own.
func applyWindow(msgs []Message, messageLimit, characterLimit int) []Message {
	var messageExcess, characterExcess int
	if messageLimit > 0 {
		for _, m := range msgs {
			if m.Role != RoleSystem {
				messageExcess++
			}
		}
		messageExcess -= messageLimit
	}
	if characterLimit > 0 {
		for _, m := range msgs {
			characterExcess += m.ContentLength()
		}
		characterExcess -= characterLimit
	}
	if messageExcess <= 0 && characterExcess <= 0 {
		return msgs
	}

	removed := make([]bool, len(msgs))
	remove := func(i int) {
		removed[i] = true
		if msgs[i].Role != RoleSystem {
			messageExcess--
		}
		characterExcess -= msgs[i].ContentLength()
	}

	for i, m := range msgs {
		if messageExcess <= 0 && characterExcess <= 0 {
			break
		}
		if removed[i] || m.Pin != PinNone || m.Role == RoleSystem {
			continue
		}

		if len(m.FunctionCalls) > 0 {
			results := correlatedResults(msgs, m.FunctionCalls)
			if slices.ContainsFunc(results, func(j int) bool { return msgs[j].Pin != PinNone }) {
				continue
			}
			remove(i)
			for _, j := range results {
				if !removed[j] {
					remove(j)
				}
			}
			continue
		}

		if m.FunctionResult != nil && hasLiveCall(msgs, removed, m.FunctionResult.ID) {
			continue
		}
		remove(i)
	}

	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if !removed[i] {
			out = append(out, m)
		}
	}
	return out
}

// correlatedResults returns the indexes of result messages answering calls.
func correlatedResults(msgs []Message, calls []FunctionCall) []int {
	ids := make(map[string]bool, len(calls))
	for _, c := range calls {
		if c.ID != "" {
			ids[c.ID] = true
		}
	}
	var idx []int
	for j, m := range msgs {
		if m.FunctionResult != nil && ids[m.FunctionResult.ID] {
			idx = append(idx, j)
		}
	}
	return idx
}

func hasLiveCall(msgs []Message, removed []bool, id string) bool {
	if id == "" {
		return false
	}
	for i, m := range msgs {
		if removed[i] {
			continue
		}
		for _, c := range m.FunctionCalls {
			if c.ID == id {
				return true
			}
		}
	}
	return false
}

// mergeConsecutive joins neighbouring messages with the same role and
// author. Function results are never merged.
func mergeConsecutive(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Role == m.Role && last.Author == m.Author &&
				last.FunctionResult == nil && m.FunctionResult == nil {
				last.Content = joinContent(last.Content, m.Content)
				last.FunctionCalls = append(slices.Clip(last.FunctionCalls), m.FunctionCalls...)
				last.Images = append(slices.Clip(last.Images), m.Images...)
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func joinContent(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return strings.Join([]string{a, b}, "\n\n")
	}
}
