// Package llm contains adapters for invoking large language model backends.
// It abstracts away provider-specific APIs behind a single text completion
// interface so the planning layer never has to know which backend produced
// the tokens.
package llm
