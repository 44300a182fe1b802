// Package errors provides the structured error type shared by every objgit
// package.
//
// Errors carry a code describing what went wrong, a classification telling
// callers whether retrying can help, optional context for logging, and the
// wrapped cause so errors.Is and errors.As keep working through the chain.
//
// The HTTP layer is the final translation point: codes map to status codes
// there, and nowhere else.
package errors
