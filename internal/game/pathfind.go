package game

import (
	"database/sql"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

// FindPath computes a shortest route over the directed warp graph with BFS.
// Avoided sectors are marked visited up front, so they can never appear on
// the route; an avoided endpoint or an unreachable target refuses with
// REF_SAFE_ZONE_ONLY. Read-only: no transaction needed.
func (g *Game) FindPath(from, to int64, avoid []int64) ([]int64, error) {
	if from == to {
		return []int64{from}, nil
	}

	var maxID int64
	if err := g.Store.DB.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM sectors`).Scan(&maxID); err != nil {
		return nil, err
	}
	if from < 1 || from > maxID || to < 1 || to > maxID {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no route from %d to %d", from, to)
	}

	adj, err := g.loadAdjacency(maxID)
	if err != nil {
		return nil, err
	}

	visited := make([]bool, maxID+1)
	prev := make([]int64, maxID+1)
	for _, a := range avoid {
		if a >= 1 && a <= maxID {
			visited[a] = true
		}
	}
	if visited[from] || visited[to] {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "route endpoint is in the avoid set")
	}

	queue := []int64{from}
	visited[from] = true
	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == to {
				found = true
				break
			}
			queue = append(queue, next)
		}
	}
	if !found {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no route from %d to %d", from, to)
	}

	// Walk prev[] back from the target.
	var rev []int64
	for cur := to; ; cur = prev[cur] {
		rev = append(rev, cur)
		if cur == from {
			break
		}
	}
	path := make([]int64, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path, nil
}

// loadAdjacency builds the adjacency list in two passes: count per-source
// degree, then stream the edges into place. Edges touching ids outside
// [1..maxID] are ignored.
func (g *Game) loadAdjacency(maxID int64) ([][]int64, error) {
	degree := make([]int, maxID+1)
	scan := func(rows *sql.Rows, fill bool, adj [][]int64) error {
		defer rows.Close()
		for rows.Next() {
			var from, to int64
			if err := rows.Scan(&from, &to); err != nil {
				return err
			}
			if from < 1 || from > maxID || to < 1 || to > maxID {
				continue
			}
			if fill {
				adj[from] = append(adj[from], to)
			} else {
				degree[from]++
			}
		}
		return rows.Err()
	}

	rows, err := g.Store.DB.Query(`SELECT from_sector, to_sector FROM sector_warps`)
	if err != nil {
		return nil, err
	}
	if err := scan(rows, false, nil); err != nil {
		return nil, err
	}

	adj := make([][]int64, maxID+1)
	for i := int64(1); i <= maxID; i++ {
		if degree[i] > 0 {
			adj[i] = make([]int64, 0, degree[i])
		}
	}
	rows, err = g.Store.DB.Query(`SELECT from_sector, to_sector FROM sector_warps`)
	if err != nil {
		return nil, err
	}
	if err := scan(rows, true, adj); err != nil {
		return nil, err
	}
	return adj, nil
}
