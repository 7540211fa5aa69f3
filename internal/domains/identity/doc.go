// Package identity provides the public domain facade for delegated signing
// identities: root registration, intermediate delegation and resolution.
//
// Package layout:
// - adapters: protocol-specific adapters (RPC dispatch)
// - policy: delegation window rules
// - transport: method identifiers and wire types
// - usecase: application usecases orchestrating registry operations
//
// External callers should use exports.go as the stable entrypoint.
package identity
