// Package gateway accepts client WebSocket connections and bridges each one
// to its own upstream Live API session. One goroutine reads client frames,
// and a relay goroutine (started lazily on the first audio or text send)
// drains upstream events back to the client. Teardown runs exactly once per
// connection regardless of which side disconnects first.
package gateway
