// Package transport provides byte-stream connections to the instrument.
//
// Two transports are supported: WebSocket (binary frames, the
// "server-websocket" subprotocol required by the device firmware) and a
// raw TCP data port. Both satisfy the Connection interface consumed by
// the session controller; neither interprets the bytes it carries.
package transport
