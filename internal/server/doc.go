// Package server assembles a running messaging node from configuration.
//
// New opens the store and wires the broker, presence coordinator, session
// manager, idempotency cache, messaging service, REST router and websocket
// handler. Run listens on a TCP address or, when enabled, on a Tailscale node
// (plain HTTP, tailnet HTTPS or public Funnel), starts the idle-session sweeper
// and the preview reconciliation schedule, and blocks until its context is
// cancelled. Shutdown closes live sockets before draining HTTP and releasing
// the store.
package server
