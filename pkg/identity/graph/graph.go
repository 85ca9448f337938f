// Package graph builds an in-memory, weighted, undirected relationship graph
// over a snapshot of unified identities and answers bounded traversal queries
// against it: reachability, admin takeover paths, blast radius, and lateral
// movement candidates.
//
// The graph is a request-scoped value: it is rebuilt from scratch for every
// analysis call and holds no state beyond the snapshot it was built from.
// Rebuilds are O(N + E) and identity counts are bounded (low thousands), so
// there is no incremental update path.
package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/beaconsec/identra/pkg/identity/roleweight"
	"github.com/beaconsec/identra/pkg/types"
)

// NodeKind distinguishes real identities from the synthetic connection points
// that model shared group and role membership.
type NodeKind string

const (
	KindIdentity NodeKind = "identity"
	KindGroup    NodeKind = "group"
	KindRole     NodeKind = "role"
)

// Relationship types carried on edges.
const (
	RelCrossProvider = "cross_provider"
	RelLinkedAccount = "linked_account"
	RelMemberOf      = "member_of"
	RelHasRole       = "has_role"
)

// Edge weights per relationship. Role edges are weighted dynamically from the
// role's sensitivity and only added for sensitive roles; low-value roles would
// otherwise connect most of the organization into one blob.
const (
	weightCrossProvider = 0.8
	weightLinkedAccount = 0.9
	weightMemberOf      = 0.5
	roleEdgeThreshold   = 0.7
)

// Node is one vertex: a real identity or a synthetic group/role hub. Identity
// is nil for synthetic nodes; Name is empty for identity nodes.
type Node struct {
	Key      string
	Kind     NodeKind
	Name     string
	Identity *types.UnifiedIdentity
}

type edge struct {
	to           string
	relationship string
	weight       float64
}

// Graph is the identity relationship multigraph. Adjacency is symmetric:
// every edge appears in both endpoints' lists.
type Graph struct {
	nodes      map[string]*Node
	adjacency  map[string][]edge
	emailIndex map[string][]string
	identities []*types.UnifiedIdentity
}

// groupKey and roleKey namespace synthetic node keys so they cannot collide
// with identity ids. The namespace never leaks: consumers branch on Kind.
func groupKey(name string) string { return "group\x00" + name }
func roleKey(name string) string  { return "role\x00" + name }

// New builds the graph from an identity snapshot in one pass:
// identity nodes, cross-provider edges for every email shared by two or more
// identities, linked-account edges for resolvable links, membership edges to
// group hubs, and role edges to role hubs for sensitive roles only.
func New(identities []*types.UnifiedIdentity) *Graph {
	g := &Graph{
		nodes:      make(map[string]*Node, len(identities)),
		adjacency:  make(map[string][]edge),
		emailIndex: make(map[string][]string),
		identities: identities,
	}

	for _, id := range identities {
		g.nodes[id.ID] = &Node{Key: id.ID, Kind: KindIdentity, Identity: id}
		if email := strings.ToLower(id.Email); email != "" {
			g.emailIndex[email] = append(g.emailIndex[email], id.ID)
		}
	}

	for _, ids := range g.emailIndex {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				g.addEdge(ids[i], ids[j], RelCrossProvider, weightCrossProvider)
			}
		}
	}

	for _, id := range identities {
		for _, linked := range id.LinkedAccounts {
			// Links to unknown ids are dropped: sparse graphs are the
			// expected case, not an error.
			if _, ok := g.nodes[linked]; ok {
				g.addEdge(id.ID, linked, RelLinkedAccount, weightLinkedAccount)
			}
		}
	}

	for _, id := range identities {
		for _, group := range id.GroupMembership {
			key := groupKey(group)
			g.ensureNode(key, KindGroup, group)
			g.addEdge(id.ID, key, RelMemberOf, weightMemberOf)
		}
	}

	for _, id := range identities {
		for _, role := range id.Roles {
			w := roleweight.Weight(role)
			if w >= roleEdgeThreshold {
				key := roleKey(role)
				g.ensureNode(key, KindRole, role)
				g.addEdge(id.ID, key, RelHasRole, w*0.5)
			}
		}
	}

	return g
}

func (g *Graph) ensureNode(key string, kind NodeKind, name string) {
	if _, ok := g.nodes[key]; !ok {
		g.nodes[key] = &Node{Key: key, Kind: kind, Name: name}
	}
}

func (g *Graph) addEdge(a, b, relationship string, weight float64) {
	g.adjacency[a] = append(g.adjacency[a], edge{to: b, relationship: relationship, weight: weight})
	g.adjacency[b] = append(g.adjacency[b], edge{to: a, relationship: relationship, weight: weight})
}

// Size returns identity node and unique edge counts.
func (g *Graph) Size() (nodes, edges int) {
	total := 0
	for _, adj := range g.adjacency {
		total += len(adj)
	}
	return len(g.identities), total / 2
}

// Contains reports whether an identity id has a node in the graph.
func (g *Graph) Contains(identityID string) bool {
	n, ok := g.nodes[identityID]
	return ok && n.Kind == KindIdentity
}

// ConnectedIdentities runs a breadth-first search from startID and returns
// every identity reachable within maxDepth hops, with the depth, the
// relationship that led to it, and its risk score. Group and role hubs are
// traversed through but excluded from the result, and hopping through one is
// free in distance terms: two identities sharing only a group are reported at
// depth 1 of each other. Unknown start ids yield an empty result.
func (g *Graph) ConnectedIdentities(startID string, maxDepth int) []types.ConnectedIdentity {
	start, ok := g.nodes[startID]
	if !ok || start.Kind != KindIdentity {
		return nil
	}

	type queued struct {
		key   string
		depth int
		via   string
	}

	visited := map[string]bool{startID: true}
	queue := []queued{{key: startID, depth: 0, via: "origin"}}
	var result []types.ConnectedIdentity

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth > 0 {
			if node := g.nodes[cur.key]; node != nil && node.Kind == KindIdentity {
				result = append(result, types.ConnectedIdentity{
					ID:        cur.key,
					Email:     node.Identity.Email,
					Source:    node.Identity.EffectiveSource(),
					Depth:     cur.depth,
					Via:       cur.via,
					RiskScore: node.Identity.RiskScore,
				})
			}
		}

		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range g.adjacency[cur.key] {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			if n := g.nodes[e.to]; n != nil && n.Kind != KindIdentity {
				queue = append(queue, queued{key: e.to, depth: cur.depth, via: cur.via})
			} else {
				queue = append(queue, queued{key: e.to, depth: cur.depth + 1, via: e.relationship})
			}
		}
	}

	return result
}

const takeoverDepthBound = 4

// FindAdminTakeoverPaths enumerates all simple paths, bounded at four hops,
// from a non-admin identity to any identity holding an admin-matching role.
// Paths follow direct identity-to-identity edges. If startID itself matches
// the admin criterion the answer is empty: it is already privileged, there is
// no path to find. Unknown ids also yield an empty result.
func (g *Graph) FindAdminTakeoverPaths(startID string) [][]types.PathHop {
	start, ok := g.nodes[startID]
	if !ok || start.Kind != KindIdentity {
		return nil
	}

	targets := make(map[string]bool)
	for key, node := range g.nodes {
		if node.Kind == KindIdentity && roleweight.IsAdmin(node.Identity.Roles) {
			targets[key] = true
		}
	}
	if targets[startID] {
		return nil
	}

	var paths [][]types.PathHop
	visited := make(map[string]bool)
	var path []types.PathHop

	var dfs func(current string)
	dfs = func(current string) {
		if len(path) > takeoverDepthBound {
			return
		}
		if targets[current] && len(path) > 0 {
			paths = append(paths, append([]types.PathHop(nil), path...))
			return
		}
		visited[current] = true
		for _, e := range g.adjacency[current] {
			if visited[e.to] {
				continue
			}
			node := g.nodes[e.to]
			if node == nil || node.Kind != KindIdentity {
				continue
			}
			path = append(path, types.PathHop{
				ID:           e.to,
				Email:        node.Identity.Email,
				Relationship: e.relationship,
				Weight:       e.weight,
			})
			dfs(e.to)
			path = path[:len(path)-1]
		}
		delete(visited, current)
	}

	dfs(startID)
	return paths
}

// CalculateBlastRadius estimates the fallout of compromising one identity.
// The raw score sums 1/(depth+1) over every identity reachable within three
// hops, amplified when admins are reachable (higher-value targets nearby) and
// when the reachable set spans several providers (wider compromise surface),
// then scaled and capped at 100 for comparability. Unknown or isolated
// identities score 0.
func (g *Graph) CalculateBlastRadius(identityID string) types.BlastRadiusReport {
	report := types.BlastRadiusReport{IdentityID: identityID}
	if node, ok := g.nodes[identityID]; !ok || node.Kind != KindIdentity {
		return report
	}

	connected := g.ConnectedIdentities(identityID, 3)

	totalWeight := 0.0
	sources := make(map[string]bool)
	adminReachable := 0
	for _, conn := range connected {
		totalWeight += 1.0 / float64(conn.Depth+1)
		sources[conn.Source] = true
		if n := g.nodes[conn.ID]; n != nil && roleweight.IsAdmin(n.Identity.Roles) {
			adminReachable++
		}
	}

	adminMultiplier := 1.0 + float64(adminReachable)*0.3
	crossCloudMultiplier := 1.0 + float64(len(sources))*0.15
	raw := totalWeight * adminMultiplier * crossCloudMultiplier

	radius := int(math.Round(raw * 10))
	if radius > 100 {
		radius = 100
	}

	affectedSources := make([]string, 0, len(sources))
	for s := range sources {
		affectedSources = append(affectedSources, s)
	}
	sort.Strings(affectedSources)

	report.BlastRadius = radius
	report.AffectedIdentities = len(connected)
	report.AffectedSources = affectedSources
	report.AdminReachable = adminReachable
	report.CrossCloudSpread = len(sources)
	return report
}

const (
	lateralDepthBound   = 4
	lateralRiskFloor    = 50
	lateralCriticalRisk = 80
	lateralResultCap    = 15
)

// DetectLateralMovementPaths lists pivot candidates reachable from an
// identity: neighbors on a different provider than the start, or with a risk
// score above 50. Candidates with risk >= 80 are critical and sort first,
// then by hop count ascending; the result is capped at 15.
func (g *Graph) DetectLateralMovementPaths(identityID string) []types.LateralPath {
	node, ok := g.nodes[identityID]
	if !ok || node.Kind != KindIdentity {
		return nil
	}
	startSource := node.Identity.EffectiveSource()

	var paths []types.LateralPath
	for _, conn := range g.ConnectedIdentities(identityID, lateralDepthBound) {
		if conn.Source == startSource && conn.RiskScore <= lateralRiskFloor {
			continue
		}
		paths = append(paths, types.LateralPath{
			From:     types.LateralEndpoint{ID: identityID, Source: startSource, Email: node.Identity.Email},
			To:       types.LateralEndpoint{ID: conn.ID, Source: conn.Source, Email: conn.Email},
			Hops:     conn.Depth,
			Via:      conn.Via,
			Risk:     conn.RiskScore,
			Critical: conn.RiskScore >= lateralCriticalRisk,
		})
	}

	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Critical != paths[j].Critical {
			return paths[i].Critical
		}
		return paths[i].Hops < paths[j].Hops
	})
	if len(paths) > lateralResultCap {
		paths = paths[:lateralResultCap]
	}
	return paths
}

// RiskDistribution buckets the snapshot by risk score.
func (g *Graph) RiskDistribution() map[string]int {
	dist := map[string]int{"Critical": 0, "High": 0, "Medium": 0, "Low": 0}
	for _, id := range g.identities {
		switch {
		case id.RiskScore >= 80:
			dist["Critical"]++
		case id.RiskScore >= 50:
			dist["High"]++
		case id.RiskScore >= 20:
			dist["Medium"]++
		default:
			dist["Low"]++
		}
	}
	return dist
}

// AdminDistances runs a multi-source BFS simultaneously from every
// admin-holding identity and returns, for each identity reached within
// maxDist hops, its shortest distance to any admin. Admins themselves map to
// 0. Synthetic hub nodes participate in traversal but are omitted from the
// result.
func (g *Graph) AdminDistances(maxDist int) map[string]int {
	distances := make(map[string]int)
	var queue []string
	for key, node := range g.nodes {
		if node.Kind == KindIdentity && roleweight.IsAdmin(node.Identity.Roles) {
			distances[key] = 0
			queue = append(queue, key)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		dist := distances[current]
		if dist >= maxDist {
			continue
		}
		for _, e := range g.adjacency[current] {
			if _, seen := distances[e.to]; !seen {
				distances[e.to] = dist + 1
				queue = append(queue, e.to)
			}
		}
	}

	result := make(map[string]int, len(distances))
	for key, d := range distances {
		if n := g.nodes[key]; n != nil && n.Kind == KindIdentity {
			result[key] = d
		}
	}
	return result
}

// Export produces the visualization shape: every node tagged with its kind,
// and undirected edges deduplicated by (sorted endpoint pair, relationship).
func (g *Graph) Export() types.GraphExport {
	export := types.GraphExport{
		Nodes: make([]types.GraphNodeExport, 0, len(g.nodes)),
		Edges: []types.GraphEdgeExport{},
	}

	keys := make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		node := g.nodes[key]
		n := types.GraphNodeExport{ID: exportID(node), Kind: string(node.Kind)}
		if node.Kind == KindIdentity {
			id := node.Identity
			n.Email = id.Email
			n.Source = id.EffectiveSource()
			n.RiskScore = id.RiskScore
			if len(id.Roles) > 3 {
				n.Roles = id.Roles[:3]
			} else {
				n.Roles = id.Roles
			}
			n.MFAEnabled = id.MFAEnabled
			n.PrivilegeTier = id.PrivilegeTier
		}
		export.Nodes = append(export.Nodes, n)
	}

	type edgeKey struct {
		a, b, rel string
	}
	seen := make(map[edgeKey]bool)
	for _, key := range keys {
		for _, e := range g.adjacency[key] {
			a, b := key, e.to
			if a > b {
				a, b = b, a
			}
			k := edgeKey{a: a, b: b, rel: e.relationship}
			if seen[k] {
				continue
			}
			seen[k] = true
			export.Edges = append(export.Edges, types.GraphEdgeExport{
				Source:       exportID(g.nodes[key]),
				Target:       exportID(g.nodes[e.to]),
				Relationship: e.relationship,
				Weight:       e.weight,
			})
		}
	}
	return export
}

// exportID renders a stable, human-readable id for serialization. Synthetic
// hubs serialize with a readable prefix instead of the internal key.
func exportID(n *Node) string {
	switch n.Kind {
	case KindGroup:
		return "group:" + n.Name
	case KindRole:
		return "role:" + n.Name
	default:
		return n.Key
	}
}

// LocalSubgraph returns the nodes and direct edges among the identities
// reachable from identityID within maxDepth hops, origin included. Used for
// the per-identity attack path visualization.
func (g *Graph) LocalSubgraph(identityID string, maxDepth int) types.GraphExport {
	origin, ok := g.nodes[identityID]
	if !ok || origin.Kind != KindIdentity {
		return types.GraphExport{Nodes: []types.GraphNodeExport{}, Edges: []types.GraphEdgeExport{}}
	}

	included := map[string]bool{identityID: true}
	export := types.GraphExport{
		Nodes: []types.GraphNodeExport{{
			ID:        identityID,
			Email:     origin.Identity.Email,
			Source:    origin.Identity.EffectiveSource(),
			Kind:      string(KindIdentity),
			RiskScore: origin.Identity.RiskScore,
		}},
		Edges: []types.GraphEdgeExport{},
	}

	for _, conn := range g.ConnectedIdentities(identityID, maxDepth) {
		included[conn.ID] = true
		export.Nodes = append(export.Nodes, types.GraphNodeExport{
			ID:        conn.ID,
			Email:     conn.Email,
			Source:    conn.Source,
			Kind:      string(KindIdentity),
			RiskScore: conn.RiskScore,
		})
	}

	type edgeKey struct {
		a, b, rel string
	}
	seen := make(map[edgeKey]bool)
	for key := range included {
		for _, e := range g.adjacency[key] {
			if !included[e.to] {
				continue
			}
			a, b := key, e.to
			if a > b {
				a, b = b, a
			}
			k := edgeKey{a: a, b: b, rel: e.relationship}
			if seen[k] {
				continue
			}
			seen[k] = true
			export.Edges = append(export.Edges, types.GraphEdgeExport{
				Source:       key,
				Target:       e.to,
				Relationship: e.relationship,
				Weight:       e.weight,
			})
		}
	}
	return export
}
