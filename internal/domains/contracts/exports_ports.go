package contracts

import contractports "provenance/go-backend/internal/domains/contracts/ports"

type IdentityRegistry = contractports.IdentityRegistry
type ContentGraph = contractports.ContentGraph
type GraphIndex = contractports.GraphIndex
type Registry = contractports.Registry
type ContentStore = contractports.ContentStore
type CategorizedError = contractports.CategorizedError
