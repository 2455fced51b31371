// Package security manages webhook signing secrets: rotation windows that
// decide which secrets are live, and an AES-GCM sealer for keeping secrets
// encrypted at rest in configuration.
package security
