// Package transport is the outbound REST client: every call runs inside the
// bounded retry loop from package retry, each attempt under its own timeout,
// and terminal HTTP failures surface as *APIError.
package transport
