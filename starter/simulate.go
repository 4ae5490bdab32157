package starter

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// SimulationConfig describes players sharing rooms. Every round each player
// runs one task that writes its room.
type SimulationConfig struct {
	Players int
	Rooms   int
	Rounds  int
	Seed    int64
}

func (c SimulationConfig) withDefaults() SimulationConfig {
	if c.Players <= 0 {
		c.Players = 40
	}
	if c.Rooms <= 0 {
		c.Rooms = 8
	}
	if c.Rounds <= 0 {
		c.Rounds = 10
	}
	return c
}

type SimulationReport struct {
	Players int
	// Rooms with at least one player.
	Rooms int
	// Rooms whose players all share one node, before and after rebalancing.
	ColocatedBefore int
	ColocatedAfter  int
	Groups          int
	Moved           int
	Loads           map[cluster.NodeId]int
}

func (r SimulationReport) String() string {
	return fmt.Sprintf("players: %d, rooms: %d, groups: %d, colocated rooms: %d -> %d, identities moved: %d, loads: %v",
		r.Players, r.Rooms, r.Groups, r.ColocatedBefore, r.ColocatedAfter, r.Moved, r.Loads)
}

// Simulate runs a game workload through s and rebalances it once. s must have
// an in-process node map and a scheduler in DebugMode, which Simulate drives
// itself.
func Simulate(ctx context.Context, s *Server, c SimulationConfig) (SimulationReport, error) {
	c = c.withDefaults()
	m := s.MemoryNodeMap()
	if m == nil {
		return SimulationReport{}, errors.New("simulation needs the memory node map")
	}
	if !s.config.Scheduler.DebugMode {
		return SimulationReport{}, errors.New("simulation needs the scheduler in debug mode")
	}
	if err := s.Coordinator().Start(); err != nil {
		return SimulationReport{}, err
	}

	rng := rand.New(rand.NewSource(c.Seed))
	rooms := map[string][]domain.Identity{}
	players := make([]domain.Identity, c.Players)
	roomOf := map[domain.Identity]string{}
	for i := range players {
		p := domain.Identity(fmt.Sprintf("player%03d", i))
		if _, err := m.Assign(p); err != nil {
			return SimulationReport{}, errors.Wrapf(err, "placing %s", p)
		}
		room := fmt.Sprintf("room%d", rng.Intn(c.Rooms))
		players[i] = p
		roomOf[p] = room
		rooms[room] = append(rooms[room], p)
	}
	before := locateAll(s, players)

	for round := 0; round < c.Rounds; round++ {
		for _, p := range players {
			obj := domain.AccessedObject{ObjectID: roomOf[p], Access: domain.Write}
			task := domain.NewTask(func(context.Context) domain.Result {
				return domain.Ok(obj)
			}, p, domain.Normal)
			if err := s.Scheduler().Submit(task); err != nil {
				return SimulationReport{}, errors.Wrap(err, "submitting simulated task")
			}
		}
		for s.Scheduler().Step(ctx) {
		}
		if err := ctx.Err(); err != nil {
			return SimulationReport{}, err
		}
	}
	log.WithFields(log.Fields{"players": c.Players, "rounds": c.Rounds}).Info("simulated workload ran")

	if err := s.Coordinator().FindGroups(ctx); err != nil {
		return SimulationReport{}, err
	}
	for s.Coordinator().MigratePending() > 0 {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return SimulationReport{}, ctx.Err()
		}
	}
	if err := s.Coordinator().Drain(ctx); err != nil {
		return SimulationReport{}, err
	}
	after := locateAll(s, players)

	report := SimulationReport{
		Players:         c.Players,
		Rooms:           len(rooms),
		ColocatedBefore: colocated(rooms, before),
		ColocatedAfter:  colocated(rooms, after),
		Groups:          len(s.Coordinator().Groups()),
		Loads:           m.Loads(),
	}
	for _, p := range players {
		if before[p] != after[p] {
			report.Moved++
		}
	}
	log.WithField("report", report).Info("simulation finished")
	return report, nil
}

func locateAll(s *Server, ids []domain.Identity) map[domain.Identity]cluster.NodeId {
	nodes := make(map[domain.Identity]cluster.NodeId, len(ids))
	for _, id := range ids {
		nodes[id], _ = s.NodeMap().Locate(id)
	}
	return nodes
}

func colocated(rooms map[string][]domain.Identity, nodes map[domain.Identity]cluster.NodeId) int {
	n := 0
	for _, members := range rooms {
		same := true
		for _, id := range members[1:] {
			if nodes[id] != nodes[members[0]] {
				same = false
				break
			}
		}
		if same {
			n++
		}
	}
	return n
}
