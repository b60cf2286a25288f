package race

import (
	"sync/atomic"

	"github.com/torosent/chorus/internal/runner"
)

// RaceState is the leaderboard of one race. It is owned by the render loop;
// LeaderIndex is written at most once.
type RaceState struct {
	Targets      []runner.State
	LeaderIndex  int
	SettledCount int

	leader atomic.Int32
}

func newRaceState(targets []runner.Target) *RaceState {
	s := &RaceState{
		Targets:     make([]runner.State, len(targets)),
		LeaderIndex: -1,
	}
	for i, t := range targets {
		s.Targets[i] = runner.State{Target: t}
	}
	s.leader.Store(-1)
	return s
}

// claimLeader makes i the leader unless one was already chosen.
func (s *RaceState) claimLeader(i int) bool {
	if !s.leader.CompareAndSwap(-1, int32(i)) {
		return false
	}
	s.LeaderIndex = i
	return true
}

// HasLeader reports whether a leader was chosen.
func (s *RaceState) HasLeader() bool {
	return s.leader.Load() >= 0
}

func (s *RaceState) settle(i int, st runner.State) {
	s.Targets[i] = st
	s.SettledCount++
}

// Settled reports whether every target reached a terminal status.
func (s *RaceState) Settled() bool {
	return s.SettledCount == len(s.Targets)
}
