// Package connection keeps one streaming exchange connection alive.
//
// The package has three layers:
//   - Client: a gorilla/websocket session with a read loop, ping keepalive
//     and subscribe command/response correlation
//   - Manager: the connection state machine. Connect, heartbeat watchdog,
//     disconnect, reconnect with backoff and subscription restoration, all
//     with state owned by a bridge loop
//   - Supervisor: polls the Manager and drives reconnection until the
//     budget is exhausted or the circuit breaker asks for fallback
package connection
