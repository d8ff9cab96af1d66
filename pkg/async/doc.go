// Package async provides safe goroutine helpers with panic recovery and
// timeout enforcement for fire-and-forget work.
package async
