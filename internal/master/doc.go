// Package master implements the coordinating node of a fanout cluster.
// The master keeps the worker registry, splits client arrays into one fragment
// per registered worker, delegates the fragments, and reassembles the results
// in order before replying to the client.
package master
