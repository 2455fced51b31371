// Package retry decides whether and when an outbound API request attempt is
// retried, and runs the bounded sequential retry loop around an attempt.
//
// Decide is pure: it performs no I/O and never mutates its inputs. Every
// logical request owns its attempt counter; nothing is shared across
// concurrent requests.
package retry
