// Package core contains the shared contracts of the SDK: error text codes and
// go-errors mapping, layered configuration, logging and metrics contracts, and
// header normalization. Component packages (webhooks, retry, transport,
// inbound) depend on core; core must not depend on them.
package core
