// Package memory defines the conversation history layer: durable storage of
// user and assistant turns plus semantic recall over past turns.
package memory

import "time"

// Turn is a single utterance in the conversation, either spoken by the user
// (Role "user") or synthesized by the agent (Role "assistant").
type Turn struct {
	// Role is "user" or "assistant".
	Role string
	// Text is the transcript or reply text.
	Text string
	// At is when the turn was recorded.
	At time.Time
	// Embedding is the turn's vector embedding, if one was computed.
	// May be nil when the embedder was unavailable at record time.
	Embedding []float32
}

// TurnResult is a Turn returned from a semantic similarity search together
// with its cosine distance from the query embedding (smaller is closer).
type TurnResult struct {
	Turn     Turn
	Distance float64
}
