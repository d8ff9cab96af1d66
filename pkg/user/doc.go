// Package user holds the account model and its PostgreSQL persistence:
// registration, credential checks, email verification and password reset
// tokens, and the access flags the authorization gate reads.
package user
