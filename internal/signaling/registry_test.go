package signaling

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinLeaveScenario(t *testing.T) {
	reg := NewRegistry()

	assert.Empty(t, reg.Join("A", "r1"))
	assert.Equal(t, []ConnID{"A"}, reg.Join("B", "r1"))
	assert.Equal(t, []ConnID{"A"}, reg.PeersOf("r1", "B"))

	roomID, remaining, ok := reg.Leave("A")
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Equal(t, []ConnID{"B"}, remaining)
	assert.Equal(t, []ConnID{"B"}, reg.PeersOf("r1", ""))

	_, remaining, ok = reg.Leave("B")
	require.True(t, ok)
	assert.Empty(t, remaining)
	assert.False(t, reg.HasRoom("r1"))
	assert.Equal(t, 0, reg.RoomCount())
}

func TestRegistry_LeaveUnknownConnection(t *testing.T) {
	reg := NewRegistry()

	roomID, remaining, ok := reg.Leave("ghost")
	assert.False(t, ok)
	assert.Empty(t, roomID)
	assert.Nil(t, remaining)
}

func TestRegistry_PeersOfMissingRoom(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.PeersOf("nope", ""))
}

func TestRegistry_JoinMovesConnectionBetweenRooms(t *testing.T) {
	reg := NewRegistry()
	reg.Join("A", "r1")
	reg.Join("B", "r1")

	peers := reg.Join("A", "r2")
	assert.Empty(t, peers)

	roomID, ok := reg.RoomOf("A")
	require.True(t, ok)
	assert.Equal(t, "r2", roomID)
	assert.Equal(t, []ConnID{"B"}, reg.PeersOf("r1", ""))
	assert.Equal(t, 2, reg.RoomCount())
}

func TestRegistry_RejoinSameRoomKeepsSingleMembership(t *testing.T) {
	reg := NewRegistry()
	reg.Join("A", "r1")
	reg.Join("B", "r1")

	assert.Equal(t, []ConnID{"B"}, reg.Join("A", "r1"))
	assert.Equal(t, []ConnID{"A", "B"}, reg.PeersOf("r1", ""))
}

func TestRegistry_RoomRecreatedAfterEmptying(t *testing.T) {
	reg := NewRegistry()
	reg.Join("A", "r1")
	reg.Leave("A")

	assert.Empty(t, reg.Join("B", "r1"))
	assert.True(t, reg.HasRoom("r1"))
}

func TestRegistry_ConcurrentJoinsAcrossRooms(t *testing.T) {
	reg := NewRegistry()
	const rooms, perRoom = 20, 10

	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		for c := 0; c < perRoom; c++ {
			wg.Add(1)
			go func(r, c int) {
				defer wg.Done()
				reg.Join(ConnID(fmt.Sprintf("c-%d-%d", r, c)), fmt.Sprintf("room-%d", r))
			}(r, c)
		}
	}
	wg.Wait()

	assert.Equal(t, rooms, reg.RoomCount())
	for r := 0; r < rooms; r++ {
		assert.Len(t, reg.PeersOf(fmt.Sprintf("room-%d", r), ""), perRoom)
	}
}

func TestRegistry_ConcurrentJoinLeaveSameRoom(t *testing.T) {
	reg := NewRegistry()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ConnID(fmt.Sprintf("c-%d", i))
			reg.Join(id, "shared")
			if i%2 == 0 {
				reg.Leave(id)
			}
		}(i)
	}
	wg.Wait()

	peers := reg.PeersOf("shared", "")
	assert.Len(t, peers, n/2)
	for _, p := range peers {
		roomID, ok := reg.RoomOf(p)
		require.True(t, ok)
		assert.Equal(t, "shared", roomID)
	}
}

func TestRegistry_ChurnNeverLosesAJoin(t *testing.T) {
	reg := NewRegistry()

	// One connection keeps emptying the room while others join it; every
	// joiner must end up in a live room.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.Join("churn", "hot")
			reg.Leave("churn")
		}
	}()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Join(ConnID(fmt.Sprintf("stay-%d", i)), "hot")
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.PeersOf("hot", ""), 20)
	assert.True(t, reg.HasRoom("hot"))
}
