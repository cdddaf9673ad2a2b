package portlock

import (
	"fmt"

	"github.com/lox/egta/internal/strategy"
)

// Plan assigns every (role, purpose) lane its own port and rotates all lanes
// by Stride each round, wrapping within Range.
type Plan struct {
	Base       int
	Stride     int
	Range      int
	LaneStride int
}

// Lane numbers: defender train, attacker train, defender eval, attacker eval.
func lane(role strategy.Role, purpose Purpose) int {
	n := 0
	if role == strategy.Attacker {
		n = 1
	}
	if purpose == Eval {
		n += 2
	}
	return n
}

// Validate rejects plans whose lanes could collide or leave the port space.
func (p Plan) Validate() error {
	if p.Base <= 0 || p.Base > 65535 {
		return fmt.Errorf("base_port %d out of range", p.Base)
	}
	if p.Range <= 0 {
		return fmt.Errorf("port_range must be positive")
	}
	if p.Stride < 0 {
		return fmt.Errorf("port_stride must be non-negative")
	}
	if p.LaneStride < p.Range {
		return fmt.Errorf("port_lane_stride %d must be at least port_range %d so lanes never share a port", p.LaneStride, p.Range)
	}
	if top := p.Base + 3*p.LaneStride + p.Range - 1; top > 65535 {
		return fmt.Errorf("port plan reaches %d, above 65535", top)
	}
	return nil
}

// Port returns the port of the lane in the given round.
func (p Plan) Port(role strategy.Role, purpose Purpose, round int) int {
	offset := 0
	if p.Range > 0 {
		offset = (round * p.Stride) % p.Range
	}
	return p.Base + lane(role, purpose)*p.LaneStride + offset
}
