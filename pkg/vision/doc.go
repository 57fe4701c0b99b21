// Package vision analyzes crop images out of the live audio path. A
// provider (Gemini via its OpenAI-compatible endpoint, or Anthropic) returns
// a prose diagnosis, which the analyzer structures into a stable result
// shape for clients.
package vision
