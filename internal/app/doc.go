// Package app holds the client-side workflows behind the provenance CLI:
// registering roots and intermediates, publishing content and consuming it.
//
// Responsibilities:
// - Resolve wallet keys and registry endpoints from configuration.
// - Compose the identity and content services over a registry and store.
//
// Non-responsibilities:
// - JSON-RPC/HTTP protocol handling and command-line parsing.
package app
