// Package inbound adapts net/http requests to the webhook parser.
//
// The middleware reads the raw, unparsed body (signatures are computed over
// the exact bytes), parses and verifies it, stores the event on the request
// context and forwards it to a dispatcher or callback. Routes using it must
// not sit behind body-decoding middleware.
package inbound
