// Package content groups the signed-metadata publishing and verification
// flows: envelope canonicalization (policy), publish/consume orchestration
// (usecase), RPC dispatch (adapters) and wire identifiers (transport).
package content
