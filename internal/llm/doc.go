// ABOUTME: Package llm is the provider-neutral streaming chat capability
// ABOUTME: Includes the OpenAI adapter, stream collection and markdown-to-plaintext rendering

// Package llm abstracts the language model consumed by the coordinator and
// the meeting summarizer.
//
// A Provider turns a Request into a Stream of Chunks. Streams are finite,
// not restartable and may fail mid-way. Collect drains a stream into a
// Response, assembling tool-call fragments by index.
package llm
