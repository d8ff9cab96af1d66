// Package pubsub decouples producers of domain events from the live
// websocket connections interested in them. In single-node mode publishes
// dispatch in-process; in multi-node mode they round-trip through Redis
// PUBSUB so every cooperating server process sees every message.
package pubsub
