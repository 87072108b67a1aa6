// Package llm is the model-based suggestion engine. It calls a prediction
// endpoint over HTTP, caches predictions per merchant and rate limits calls.
package llm
