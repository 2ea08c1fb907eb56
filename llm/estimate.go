package llm

import "unicode/utf8"

// charsPerToken is the heuristic ratio used when a backend has no counting endpoint.
const charsPerToken = 4

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateRequestTokens estimates the prompt size of a request as
// ceil(chars/4) over its text parts. Tool traffic and the system instruction
// are not counted.
func EstimateRequestTokens(req *Request) int {
	if req == nil {
		return 0
	}
	var chars int
	for _, turn := range req.Turns {
		for _, p := range turn.Parts {
			chars += utf8.RuneCountInString(p.Text)
		}
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// PromptText flattens every text part of the request, one line per part.
// It is used by backends whose embedding endpoints take a single string.
func PromptText(req *Request) string {
	if req == nil {
		return ""
	}
	var out []byte
	for _, turn := range req.Turns {
		for _, p := range turn.Parts {
			if p.Text == "" {
				continue
			}
			if len(out) > 0 {
				out = append(out, '\n')
			}
			out = append(out, p.Text...)
		}
	}
	return string(out)
}
