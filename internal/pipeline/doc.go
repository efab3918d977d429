// Package pipeline turns perception frames into height and speed readings.
//
// A Processor owns one speed estimator per subject and is the single
// writer of their motion state. It chooses the best observation available
// in each frame, runs the estimators, and hands successful results to the
// publish and persistence sinks. Estimation failures are counted and never
// stop the feed.
package pipeline
