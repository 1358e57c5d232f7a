package heartbeat

import (
	"context"
	"math/rand"
	"sync"

	"github.com/example/driver-dispatch/internal/models"
)

// SimulatedSource is a random-walk position source used when the agent runs
// without real device hardware. Each read drifts a small step from the
// previous position.
type SimulatedSource struct {
	mu   sync.Mutex
	pos  models.Coord
	rng  *rand.Rand
	step float64
}

func NewSimulatedSource(start models.Coord, seed int64) *SimulatedSource {
	return &SimulatedSource{
		pos:  start,
		rng:  rand.New(rand.NewSource(seed)),
		step: 5e-4,
	}
}

func (s *SimulatedSource) Current(_ context.Context) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.Lat += (s.rng.Float64() - 0.5) * s.step
	s.pos.Lng += (s.rng.Float64() - 0.5) * s.step
	return models.Position{Coord: s.pos, AccuracyM: 10}, nil
}
