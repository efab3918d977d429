// Package geometry holds the observation types fed to the estimators and
// the small amount of vector math they share.
//
// Image-plane keypoints are normalized to [0,1] with y growing upwards, the
// convention of the body-pose detector. Tracking-space joints are in meters.
package geometry
