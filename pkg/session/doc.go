// Package session owns the lifecycle of client sessions: an in-memory
// registry keyed by connection ID, per-session state including the upstream
// streaming handle and the single-flight relay flag, and a periodic sweeper
// that evicts idle sessions. Sessions are ephemeral; nothing survives a
// process restart.
package session
