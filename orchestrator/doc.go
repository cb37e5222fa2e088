// Package orchestrator drives multi-participant conversations. The Manager
// is the public control surface (create, configure, start, pause, resume,
// stop, reset, delete); each running loop is served by exactly one background
// worker that advances the rotation turn by turn, resolves placeholders
// through the model gateway, and evaluates stop conditions. The manager and
// the workers never share a loop in memory: the store is the single source of
// truth, re-read at every step.
package orchestrator
