// Package driving provides interfaces for primary (inbound) ports: the
// operations the CLI, the spool watcher and external schedulers invoke.
package driving
