// Package realtime implements the websocket side of kindred: an evented
// connection wrapper, the challenge/response handshake that binds a socket
// to an HTTP session, and the channel registry that fans bridge messages
// out to subscribed connections.
//
// Protocol: every frame is a JSON envelope {event, data, id}. The server
// emits "challenge" immediately on connect; the client must reply with a
// single "challenge" event carrying its session key as a string. On success
// the server emits "authorized" and the connection may subscribe to
// channels; on failure the server closes the transport.
package realtime
