// Package domain contains the core entities of the pagelore knowledge
// pipeline: documents, chunks, retrieval results and the error taxonomy.
// It has no dependencies on adapters or external services.
package domain
