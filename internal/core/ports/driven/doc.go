// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): the embedding service, the completion
// service, the vector store and the document metadata store.
package driven
