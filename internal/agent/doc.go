// Package agent contains the core orchestrator facade. It validates incoming
// task requests, drives the planning/execution dispatcher to a terminal state,
// and condenses the session memory into a result suitable for persistence and
// API responses.
package agent
