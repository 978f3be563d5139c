// Package worker implements the worker agent of a fanout cluster.
// A worker listens on its own address, joins a master, applies delegated
// fragments with the task registry and reports each result back.
package worker
