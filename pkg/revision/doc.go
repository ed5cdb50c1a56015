// Package revision reads the HEAD commit of the evaluated repository so
// audit entries can record which revision a decision was made for.
//
// Access is read-only: the gate never commits, fetches, or checks out.
package revision
