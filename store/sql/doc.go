// Package sqlstore persists the webhook delivery ledger with bun.
//
// Schema comes from the embedded migrations (see package migrations) or
// EnsureSchema for throwaway databases. Both sqlite and postgres are
// supported.
package sqlstore
