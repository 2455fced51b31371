// Package main is the rnwebhook command: sign and verify Request Network
// webhook payloads, or run a local verifying endpoint.
package main

var (
	version = "dev"
	commit  = "none"
)

func main() {
	Execute()
}
