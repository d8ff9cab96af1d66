// Package authz implements the authorization gate shared by the HTTP
// request pipeline and the realtime event pipeline. The decision logic is
// identical across transports; only the failure rendering differs.
package authz
