// Package services implements the core pipelines: ingestion (chunk,
// embed, persist) and query (retrieve, synthesise). Services depend only
// on domain types and driven ports; external clients are injected at
// construction.
package services
