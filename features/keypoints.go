// Package features contains the feature data model shared by the registration
// pipeline: keypoints, binary and float descriptors, and cross-checked
// descriptor matching.
package features

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// KeyPoint is a detected image location with its pyramid level and detector
// response. KeyPoints are immutable once produced by a detector.
type KeyPoint struct {
	Point    r2.Point
	Level    int
	Response float64
}

// KeyPoints is an ordered set of keypoints belonging to one image.
type KeyPoints []KeyPoint

// FeatureSet pairs the keypoints of one image with their descriptors. The
// two slices are parallel: Descriptors.Len() == len(KeyPoints). A FeatureSet
// is read-only once produced by a detector.
type FeatureSet struct {
	KeyPoints   KeyPoints
	Descriptors *DescriptorSet
}

// NewFeatureSet creates a feature set, checking that keypoints and
// descriptors are parallel.
func NewFeatureSet(kps KeyPoints, descs *DescriptorSet) (*FeatureSet, error) {
	if descs == nil {
		return nil, errors.New("descriptor set cannot be nil")
	}
	if len(kps) != descs.Len() {
		return nil, errors.Errorf("got %d keypoints for %d descriptors", len(kps), descs.Len())
	}
	return &FeatureSet{KeyPoints: kps, Descriptors: descs}, nil
}

// Len returns the number of features in the set.
func (fs *FeatureSet) Len() int {
	return len(fs.KeyPoints)
}
