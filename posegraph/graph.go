package posegraph

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/registration/features"
)

// AnchorPolicy selects the anchor node of each connected component when
// computing global poses.
type AnchorPolicy int

const (
	// AnchorHighestDegree anchors on the node with the most edges, ties
	// broken by lowest image id. High-degree anchors keep spanning-tree
	// paths short, which reduces accumulated perspective error.
	AnchorHighestDegree AnchorPolicy = iota
	// AnchorLowestID anchors on the lowest image id of the component.
	AnchorLowestID
)

// Edge is a validated pairwise registration attached to a source node. An
// edge is semantically symmetric (the model is invertible) though the model
// is stored in the source-to-neighbor direction.
type Edge struct {
	Neighbor int
	Inliers  []features.DescriptorMatch
	Model    GeometricModel

	// reversed marks the mirrored adjacency entry of an edge stored on the
	// other endpoint; its model maps neighbor coordinates onto this node.
	reversed bool
}

// PoseGraph is an adjacency structure over images. It is mutated during the
// matching phase, with AddEdge safe to call from concurrent pair tasks, and
// read-only afterward.
type PoseGraph struct {
	mu    sync.Mutex
	nodes map[int][]*Edge
}

// NewPoseGraph returns an empty pose graph.
func NewPoseGraph() *PoseGraph {
	return &PoseGraph{nodes: map[int][]*Edge{}}
}

// AddNode ensures a node exists for the given image id.
func (pg *PoseGraph) AddNode(id int) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureNode(id)
}

func (pg *PoseGraph) ensureNode(id int) {
	if _, ok := pg.nodes[id]; !ok {
		pg.nodes[id] = []*Edge{}
	}
}

func (pg *PoseGraph) hasEdge(a, b int) bool {
	for _, e := range pg.nodes[a] {
		if e.Neighbor == b {
			return true
		}
	}
	return false
}

// AddEdge inserts a validated pairwise relationship between images a and b.
// The model maps a coordinates onto b coordinates. The insert is idempotent
// and performs no re-validation.
func (pg *PoseGraph) AddEdge(a, b int, inliers []features.DescriptorMatch, model GeometricModel) error {
	if a == b {
		return errors.Errorf("cannot add a self edge on image %d", a)
	}
	if err := model.CheckValid(); err != nil {
		return err
	}
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureNode(a)
	pg.ensureNode(b)
	if pg.hasEdge(a, b) {
		return nil
	}
	pg.nodes[a] = append(pg.nodes[a], &Edge{Neighbor: b, Inliers: inliers, Model: model})
	pg.nodes[b] = append(pg.nodes[b], &Edge{Neighbor: a, Inliers: inliers, Model: model, reversed: true})
	return nil
}

// RemoveNode deletes a node and all its incident edges.
func (pg *PoseGraph) RemoveNode(id int) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	edges, ok := pg.nodes[id]
	if !ok {
		return
	}
	for _, e := range edges {
		neighborEdges := pg.nodes[e.Neighbor]
		kept := neighborEdges[:0]
		for _, ne := range neighborEdges {
			if ne.Neighbor != id {
				kept = append(kept, ne)
			}
		}
		pg.nodes[e.Neighbor] = kept
	}
	delete(pg.nodes, id)
}

// Nodes returns the image ids in the graph in increasing order.
func (pg *PoseGraph) Nodes() []int {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	ids := make([]int, 0, len(pg.nodes))
	for id := range pg.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Degree returns the number of edges incident to the given node.
func (pg *PoseGraph) Degree(id int) int {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return len(pg.nodes[id])
}

// Edges returns the adjacency entries of a node, sorted by neighbor id.
func (pg *PoseGraph) Edges(id int) []*Edge {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.sortedEdges(id)
}

func (pg *PoseGraph) sortedEdges(id int) []*Edge {
	edges := make([]*Edge, len(pg.nodes[id]))
	copy(edges, pg.nodes[id])
	sort.Slice(edges, func(i, j int) bool { return edges[i].Neighbor < edges[j].Neighbor })
	return edges
}

// FindConnectedComponents scans the undirected graph and returns the groups
// of mutually registered images. Node ids within a component and the
// components themselves are in increasing order.
func (pg *PoseGraph) FindConnectedComponents() [][]int {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	ids := make([]int, 0, len(pg.nodes))
	for id := range pg.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	visited := make(map[int]bool, len(ids))
	var components [][]int
	for _, start := range ids {
		if visited[start] {
			continue
		}
		component := []int{}
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			for _, e := range pg.sortedEdges(cur) {
				if !visited[e.Neighbor] {
					visited[e.Neighbor] = true
					queue = append(queue, e.Neighbor)
				}
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}

// pickAnchor applies the anchor policy to a component.
func (pg *PoseGraph) pickAnchor(component []int, policy AnchorPolicy) int {
	anchor := component[0]
	if policy == AnchorLowestID {
		return anchor
	}
	bestDegree := len(pg.nodes[anchor])
	for _, id := range component[1:] {
		d := len(pg.nodes[id])
		if d > bestDegree || (d == bestDegree && id < anchor) {
			anchor = id
			bestDegree = d
		}
	}
	return anchor
}

// ComputeGlobalPoses derives, for every image, the transform mapping its
// coordinates into the coordinate frame of its component's anchor. The
// traversal composes edge models along a BFS spanning tree; redundant and
// cyclic edges are ignored, no loop closure is performed.
func (pg *PoseGraph) ComputeGlobalPoses(policy AnchorPolicy) (map[int]GeometricModel, error) {
	components := pg.FindConnectedComponents()
	pg.mu.Lock()
	defer pg.mu.Unlock()

	global := make(map[int]GeometricModel, len(pg.nodes))
	for _, component := range components {
		anchor := pg.pickAnchor(component, policy)
		if len(component) == 1 && len(pg.nodes[anchor]) == 0 {
			// isolated node, nothing to anchor against
			continue
		}
		identity, err := pg.nodes[anchor][0].Model.identityLike()
		if err != nil {
			return nil, errors.Wrapf(err, "component anchored at %d", anchor)
		}
		global[anchor] = identity

		queue := []int{anchor}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			curGlobal := global[cur]
			for _, e := range pg.sortedEdges(cur) {
				if _, done := global[e.Neighbor]; done {
					continue
				}
				// toCur maps neighbor coordinates onto cur coordinates
				toCur := e.Model
				if !e.reversed {
					var err error
					toCur, err = e.Model.Inverse()
					if err != nil {
						return nil, errors.Wrapf(err, "edge %d-%d", cur, e.Neighbor)
					}
				}
				g, err := curGlobal.Compose(toCur)
				if err != nil {
					return nil, errors.Wrapf(err, "edge %d-%d", cur, e.Neighbor)
				}
				global[e.Neighbor] = g
				queue = append(queue, e.Neighbor)
			}
		}
	}
	return global, nil
}

// RegistrationStatus reports whether global assembly can proceed.
type RegistrationStatus struct {
	// Complete is true when every image belongs to one mutually registered
	// group and every node clears the feature-count floor.
	Complete bool
	// Components are the mutually registered groups.
	Components [][]int
	// LowFeatureNodes lists images under the feature-count floor.
	LowFeatureNodes []int
}

// CheckRegistrationComplete reports whether the graph forms a single usable
// group. An incomplete registration is not an error: the pipeline awaits
// externally supplied correspondences before proceeding.
func (pg *PoseGraph) CheckRegistrationComplete(featureCounts map[int]int, minFeatures int) RegistrationStatus {
	status := RegistrationStatus{Components: pg.FindConnectedComponents()}
	for id, count := range featureCounts {
		if count < minFeatures {
			status.LowFeatureNodes = append(status.LowFeatureNodes, id)
		}
	}
	sort.Ints(status.LowFeatureNodes)
	status.Complete = len(status.Components) <= 1 && len(status.LowFeatureNodes) == 0
	return status
}
