// Package llm provides a backend-neutral abstraction for content generation.
//
// This package defines common types, interfaces, and utilities that let the rest of
// the codebase talk to several backend families (chat-completions, structured-turn,
// responses-style, Anthropic messages, Ollama) without being tied to one wire format.
//
// # Core Concepts
//
//  1. Turns and parts: a Request carries conversation Turns made of text,
//     function-call and function-response Parts, plus a SamplingConfig.
//
//  2. Channels: every backend reply is normalized into ChannelMessages on the
//     analysis (reasoning), commentary (tool calls) or final (answer) channel.
//     Streams additionally emit one marker message when a non-final channel opens.
//
//  3. ContentGenerator: the uniform contract with GenerateContent,
//     GenerateContentStream, CountTokens and EmbedContent. Families that cannot
//     serve an operation return an unsupported error.
//
//  4. Middleware: the Middleware and StreamMiddleware interfaces decorate a
//     generator with logging, metrics and similar concerns via WrapWithMiddleware.
//
//  5. Errors: the Error type classifies failures as network, backend, protocol,
//     unsupported or exhausted so the failover layer can decide what to do.
//
// Usage Example
//
//	ep, err := llm.NewRegistry().Resolve(llm.BackendRef{ID: "oa", Family: llm.FamilyOpenAI})
//	gen, err := openai.NewGenerator(ep, http.DefaultClient, logger)
//	gen = llm.WrapWithMiddleware(gen, loggingMiddleware)
//
//	resp, err := gen.GenerateContent(ctx, &llm.Request{
//	    Turns: []llm.Turn{llm.NewTextTurn(llm.RoleUser, "Hello!")},
//	})
//	fmt.Println(resp.Text(llm.ChannelFinal))
//
// # Extension Points
//
// To add a backend family:
//  1. Implement the ContentGenerator interface (and ModelLister if it can list models)
//  2. Map replies onto channel messages, using the channel adapter chain where it fits
//  3. Stream through the sse decoder with a family-specific frame function
//  4. Translate family errors into llm.Error types
package llm
