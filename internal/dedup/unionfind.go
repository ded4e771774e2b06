package dedup

// unionFind groups event IDs transitively: if A merges with B and B with C,
// all three end up in one cluster.
type unionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[int64]int64),
		rank:   make(map[int64]int),
	}
}

func (u *unionFind) find(id int64) int64 {
	root, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if root == id {
		return id
	}
	resolved := u.find(root)
	u.parent[id] = resolved
	return resolved
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// groups returns every component with at least two members.
func (u *unionFind) groups() map[int64][]int64 {
	out := make(map[int64][]int64)
	for id := range u.parent {
		root := u.find(id)
		out[root] = append(out[root], id)
	}
	for root, members := range out {
		if len(members) < 2 {
			delete(out, root)
		}
	}
	return out
}
