package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func requireRefusal(t *testing.T, err error, code int) {
	t.Helper()
	var refusal *proto.Refusal
	require.ErrorAs(t, err, &refusal)
	require.Equal(t, code, refusal.Code)
}

func TestFindPathShortestRoute(t *testing.T) {
	g := newTestGame(t)

	path, err := g.FindPath(9, 6, nil)
	require.NoError(t, err)
	require.EqualValues(t, 9, path[0])
	require.EqualValues(t, 6, path[len(path)-1])
	require.LessOrEqual(t, len(path), 4, "9 and 6 are three hops apart")
}

func TestFindPathTrivial(t *testing.T) {
	g := newTestGame(t)
	path, err := g.FindPath(5, 5, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{5}, path)
}

func TestFindPathHonorsAvoidSet(t *testing.T) {
	g := newTestGame(t)

	path, err := g.FindPath(9, 6, []int64{1, 2})
	require.NoError(t, err)
	for _, id := range path {
		require.NotContains(t, []int64{1, 2}, id)
	}
	require.EqualValues(t, 9, path[0])
	require.EqualValues(t, 6, path[len(path)-1])
}

func TestFindPathRefusesAvoidedEndpoint(t *testing.T) {
	g := newTestGame(t)
	_, err := g.FindPath(9, 6, []int64{6})
	requireRefusal(t, err, proto.RefSafeZoneOnly)
}

func TestFindPathRefusesWhenCutOff(t *testing.T) {
	g := newTestGame(t)
	// 9 touches only 2, 8 and 10; avoiding all three strands it.
	_, err := g.FindPath(9, 6, []int64{2, 8, 10})
	requireRefusal(t, err, proto.RefSafeZoneOnly)
}

func TestFindPathRefusesUnknownSector(t *testing.T) {
	g := newTestGame(t)
	_, err := g.FindPath(1, 4000, nil)
	requireRefusal(t, err, proto.RefSafeZoneOnly)
}

func TestFindPathUsesOneWayWarps(t *testing.T) {
	g := newTestGame(t)

	// 17 -> 4 exists only outbound, so the return trip is longer.
	out, err := g.FindPath(17, 4, nil)
	require.NoError(t, err)
	back, err := g.FindPath(4, 17, nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(out))
	require.Greater(t, len(back), len(out))
}
