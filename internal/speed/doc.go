// Package speed estimates instantaneous movement speed from a stream of
// timestamped positions by finite differences.
//
// Each Estimator owns one MotionState and must only be driven by one caller
// at a time; run one Estimator per tracked subject. There is no internal
// locking.
//
// MotionState has two states. It starts Empty; the first Update stores the
// sample and returns measure.ErrNoPriorSample. Every later Update measures
// against the previous sample and then replaces it, whether or not a speed
// was produced, so the next call always differences against the most recent
// sample rather than the last moving one.
package speed
