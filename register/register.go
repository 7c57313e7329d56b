package register

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/registration/features"
	"go.viam.com/registration/posegraph"
	"go.viam.com/registration/transform"
	"go.viam.com/registration/utils"
)

// matchedPoints extracts the coordinate pairs referenced by a match list.
func matchedPoints(matches []features.DescriptorMatch, kps1, kps2 features.KeyPoints) ([]r2.Point, []r2.Point, error) {
	m1, m2, err := features.MatchedKeyPoints(matches, kps1, kps2)
	if err != nil {
		return nil, nil, err
	}
	pts1 := make([]r2.Point, len(m1))
	pts2 := make([]r2.Point, len(m2))
	for i := range m1 {
		pts1[i] = m1[i].Point
		pts2[i] = m2[i].Point
	}
	return pts1, pts2, nil
}

// estimatePair fits the configured geometric relationship to the given
// matches. It returns the model and the inlier subset of the match list.
func estimatePair(
	ctx context.Context,
	matches []features.DescriptorMatch,
	setA, setB *features.FeatureSet,
	kA, kB *transform.PinholeCameraIntrinsics,
	cfg *Config,
) (posegraph.GeometricModel, []features.DescriptorMatch, error) {
	pts1, pts2, err := matchedPoints(matches, setA.KeyPoints, setB.KeyPoints)
	if err != nil {
		return posegraph.GeometricModel{}, nil, err
	}
	var model posegraph.GeometricModel
	var inlierIdx []int
	switch cfg.Mode {
	case ModePlanar:
		h, inliers, err := transform.EstimateHomographyRANSAC(ctx, pts1, pts2, cfg.Homography)
		if err != nil {
			return posegraph.GeometricModel{}, nil, err
		}
		model = posegraph.NewHomographyModel(h)
		inlierIdx = inliers
	case ModeCalibrated:
		est, err := transform.EstimateEssentialRANSAC(ctx, pts1, pts2, kA, kB, cfg.Essential)
		if err != nil {
			return posegraph.GeometricModel{}, nil, err
		}
		model = posegraph.NewPoseModel(est.Pose)
		inlierIdx = est.Inliers
	default:
		return posegraph.GeometricModel{}, nil, errors.Errorf("unknown mode %q", cfg.Mode)
	}
	inlierMatches := make([]features.DescriptorMatch, len(inlierIdx))
	for i, idx := range inlierIdx {
		inlierMatches[i] = matches[idx]
	}
	return model, inlierMatches, nil
}

// pairLocal reports whether an estimation failure is an expected pair-local
// outcome: the orchestrator omits the edge and continues.
func pairLocal(err error) bool {
	return errors.Is(err, transform.ErrInsufficientData) ||
		errors.Is(err, transform.ErrNumericalDegeneracy) ||
		errors.Is(err, transform.ErrGeometricRejection)
}

// RegisterAll matches and registers every image pair, returning the
// resulting pose graph. Pair tasks run concurrently; pair-local estimation
// failures are skipped, cancellation halts the whole stage.
func RegisterAll(
	ctx context.Context,
	sets []*features.FeatureSet,
	intrinsics []*transform.PinholeCameraIntrinsics,
	cfg *Config,
	logger golog.Logger,
) (*posegraph.PoseGraph, error) {
	if cfg.Mode == ModeCalibrated && len(intrinsics) != len(sets) {
		return nil, errors.Errorf("calibrated mode needs intrinsics for all %d images, got %d", len(sets), len(intrinsics))
	}
	graph := posegraph.NewPoseGraph()
	for i := range sets {
		graph.AddNode(i)
	}
	matcher := features.NewMatcher(logger)

	var tasks []utils.SimpleFunc
	for a := 0; a < len(sets); a++ {
		for b := a + 1; b < len(sets); b++ {
			a, b := a, b
			tasks = append(tasks, func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return registerPair(ctx, graph, matcher, sets, intrinsics, a, b, cfg, logger)
			})
		}
	}
	if err := utils.RunInParallel(ctx, tasks); err != nil {
		return nil, err
	}
	return graph, nil
}

func registerPair(
	ctx context.Context,
	graph *posegraph.PoseGraph,
	matcher *features.Matcher,
	sets []*features.FeatureSet,
	intrinsics []*transform.PinholeCameraIntrinsics,
	a, b int,
	cfg *Config,
	logger golog.Logger,
) error {
	matches, err := matcher.Match(ctx, sets[a].Descriptors, sets[b].Descriptors, cfg.Matching)
	if err != nil {
		return err
	}
	var kA, kB *transform.PinholeCameraIntrinsics
	if cfg.Mode == ModeCalibrated {
		kA, kB = intrinsics[a], intrinsics[b]
	}
	model, inliers, err := estimatePair(ctx, matches, sets[a], sets[b], kA, kB, cfg)
	if err != nil {
		if pairLocal(err) {
			logger.Debugw("pair rejected", "a", a, "b", b, "matches", len(matches), "reason", err)
			return nil
		}
		return err
	}
	if cfg.DebugDir != "" {
		out := filepath.Join(cfg.DebugDir, fmt.Sprintf("matches_%d_%d.png", a, b))
		if err := plotPair(sets[a], sets[b], inliers, out); err != nil {
			logger.Warnw("could not write debug image", "path", out, "error", err)
		}
	}
	logger.Debugw("pair accepted", "a", a, "b", b, "matches", len(matches), "inliers", len(inliers))
	return graph.AddEdge(a, b, inliers, model)
}

// plotPair renders the inlier matches of a pair side by side.
func plotPair(setA, setB *features.FeatureSet, inliers []features.DescriptorMatch, outName string) error {
	sizeA := boundingSize(setA.KeyPoints)
	sizeB := boundingSize(setB.KeyPoints)
	return features.PlotMatchedLines(sizeA, sizeB, setA.KeyPoints, setB.KeyPoints, inliers, outName)
}

func boundingSize(kps features.KeyPoints) image.Point {
	var size image.Point
	for _, kp := range kps {
		if int(kp.Point.X)+1 > size.X {
			size.X = int(kp.Point.X) + 1
		}
		if int(kp.Point.Y)+1 > size.Y {
			size.Y = int(kp.Point.Y) + 1
		}
	}
	return size
}

// AddManualCorrespondences registers a single pair from externally supplied
// matches, the path used when automatic matching leaves the graph
// disconnected. The matches are validated by the configured estimator
// before the edge is inserted.
func AddManualCorrespondences(
	ctx context.Context,
	graph *posegraph.PoseGraph,
	sets []*features.FeatureSet,
	intrinsics []*transform.PinholeCameraIntrinsics,
	a, b int,
	matches []features.DescriptorMatch,
	cfg *Config,
	logger golog.Logger,
) error {
	if a < 0 || a >= len(sets) || b < 0 || b >= len(sets) {
		return errors.Errorf("image pair (%d, %d) out of range", a, b)
	}
	var kA, kB *transform.PinholeCameraIntrinsics
	if cfg.Mode == ModeCalibrated {
		if len(intrinsics) != len(sets) {
			return errors.Errorf("calibrated mode needs intrinsics for all %d images, got %d", len(sets), len(intrinsics))
		}
		kA, kB = intrinsics[a], intrinsics[b]
	}
	model, inliers, err := estimatePair(ctx, matches, sets[a], sets[b], kA, kB, cfg)
	if err != nil {
		return errors.Wrapf(err, "manual correspondences for pair (%d, %d)", a, b)
	}
	logger.Infow("manual pair accepted", "a", a, "b", b, "inliers", len(inliers))
	return graph.AddEdge(a, b, inliers, model)
}

// Status reports whether the graph built from the given feature sets is
// ready for global assembly.
func Status(graph *posegraph.PoseGraph, sets []*features.FeatureSet, cfg *Config) posegraph.RegistrationStatus {
	counts := make(map[int]int, len(sets))
	for i, set := range sets {
		counts[i] = set.Len()
	}
	return graph.CheckRegistrationComplete(counts, cfg.MinFeatures)
}
