// Package protocol defines the msgpack messages exchanged with the simulator
// over its websocket.
package protocol

//go:generate msgp
//msgp:ignore Rewards

import "errors"

const (
	// Driver -> simulator
	TypeRollout = "rollout"

	// Simulator -> driver
	TypeRolloutResult = "rollout_result"
)

// ErrUnknownMessageType is returned by Marshal and Unmarshal for values that
// are not protocol messages.
var ErrUnknownMessageType = errors.New("unknown message type")

// RolloutRequest asks the simulator for a batch of episodes between two
// strategies. Learned policies are named by artifact path plus the scope
// their parameters are loaded under.
type RolloutRequest struct {
	Type         string `msg:"type"`
	Mode         string `msg:"mode"` // no-net, def-net, att-net, both-net
	Env          string `msg:"env"`
	Def          string `msg:"def"`
	Att          string `msg:"att"`
	DefScope     string `msg:"def_scope"`
	AttScope     string `msg:"att_scope"`
	Episodes     int    `msg:"episodes"`
	MaxTimesteps int    `msg:"max_timesteps"`
	Seed         int64  `msg:"seed"`
}

// RolloutResult carries one reward per episode and role. A non-empty Error
// means the batch failed inside the simulator.
type RolloutResult struct {
	Type       string    `msg:"type"`
	DefRewards Rewards `msg:"def_rewards"`
	AttRewards Rewards `msg:"att_rewards"`
	Error      string    `msg:"error"`
}
