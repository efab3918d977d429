// Package measure defines the result values produced by the estimators and
// the error taxonomy used to report an absent result.
//
// A measurement is either present (nil error) or absent (non-nil error). A
// zero-valued Height or Speed is never used to mean "no data": callers must
// check the error first.
package measure
