package transform

import "github.com/pkg/errors"

// ErrInsufficientData is returned when fewer correspondences are supplied
// than the algorithm minimum.
var ErrInsufficientData = errors.New("not enough correspondences to estimate a model")

// ErrNumericalDegeneracy is returned when a solve is singular or near
// singular, e.g. a collinear minimal sample.
var ErrNumericalDegeneracy = errors.New("degenerate system, cannot estimate a model")

// ErrGeometricRejection is returned when a model was computed but failed
// validation: too few inliers or a failed cheirality check.
var ErrGeometricRejection = errors.New("estimated model rejected")
