package features

import (
	"github.com/pkg/errors"
)

// BinaryDescriptor is a fixed-width binary descriptor, bit-packed into
// uint64 words the way BRIEF descriptors are laid out.
type BinaryDescriptor []uint64

// FloatDescriptor is a fixed-length gradient-histogram style descriptor.
type FloatDescriptor []float64

// DescriptorSet holds the descriptors of one image. A set contains exactly
// one descriptor family, and every descriptor in it has the same width.
type DescriptorSet struct {
	binary []BinaryDescriptor
	float  []FloatDescriptor
}

// NewBinaryDescriptorSet creates a descriptor set from binary descriptors,
// checking width uniformity.
func NewBinaryDescriptorSet(descs []BinaryDescriptor) (*DescriptorSet, error) {
	for i, d := range descs {
		if len(d) != len(descs[0]) {
			return nil, errors.Errorf("descriptor %d has %d words, expected %d", i, len(d), len(descs[0]))
		}
	}
	return &DescriptorSet{binary: descs}, nil
}

// NewFloatDescriptorSet creates a descriptor set from float descriptors,
// checking length uniformity.
func NewFloatDescriptorSet(descs []FloatDescriptor) (*DescriptorSet, error) {
	for i, d := range descs {
		if len(d) != len(descs[0]) {
			return nil, errors.Errorf("descriptor %d has length %d, expected %d", i, len(d), len(descs[0]))
		}
	}
	return &DescriptorSet{float: descs}, nil
}

// IsBinary reports whether the set holds binary descriptors.
func (ds *DescriptorSet) IsBinary() bool {
	return ds.binary != nil
}

// Len returns the number of descriptors in the set.
func (ds *DescriptorSet) Len() int {
	if ds.IsBinary() {
		return len(ds.binary)
	}
	return len(ds.float)
}

// Width returns the descriptor width: words for binary sets, vector length
// for float sets. Zero for empty sets.
func (ds *DescriptorSet) Width() int {
	if ds.Len() == 0 {
		return 0
	}
	if ds.IsBinary() {
		return len(ds.binary[0])
	}
	return len(ds.float[0])
}

// sameFamily reports whether two sets can be matched against each other.
func (ds *DescriptorSet) sameFamily(other *DescriptorSet) bool {
	return ds.IsBinary() == other.IsBinary()
}
