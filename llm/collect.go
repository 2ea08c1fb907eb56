package llm

import "strings"

// Collect drains a stream into a single response. Consecutive messages on the same
// channel are merged and marker messages are dropped. The stream is closed on return.
func Collect(stream Stream) (*Response, error) {
	defer func() { _ = stream.Close() }()

	var (
		merged []ChannelMessage
		buf    strings.Builder
		cur    Channel
		usage  *Usage
		finish string
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		merged = append(merged, ChannelMessage{Channel: cur, Content: buf.String()})
		buf.Reset()
	}

	for stream.Next() {
		resp := stream.Current()
		if resp == nil {
			continue
		}
		if resp.Usage != nil {
			// Some protocols report input and output counts in separate events.
			if usage == nil {
				usage = &Usage{}
			}
			usage.InputTokens = max(usage.InputTokens, resp.Usage.InputTokens)
			usage.OutputTokens = max(usage.OutputTokens, resp.Usage.OutputTokens)
		}
		for _, c := range resp.Candidates {
			if c.FinishReason != "" {
				finish = c.FinishReason
			}
		}
		for _, m := range resp.Messages() {
			if m.IsMarker() {
				continue
			}
			// Commentary entries are discrete tool calls and are never merged.
			if m.Channel != cur || m.Channel == ChannelCommentary {
				flush()
				cur = m.Channel
			}
			buf.WriteString(m.Content)
		}
	}
	flush()
	if err := stream.Err(); err != nil {
		return nil, err
	}

	resp := NewResponse(merged, finish)
	resp.Usage = usage
	return resp, nil
}
