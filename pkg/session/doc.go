// Package session implements Redis-backed HTTP sessions. The websocket
// handshake validates client-presented session keys against the same store,
// so an authorized socket is always bound to a live HTTP session.
package session
