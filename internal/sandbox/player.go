package sandbox

import (
	"bombarena.ai/internal/encoding"
	"bombarena.ai/internal/protocol"
)

const (
	ExportMemory        = "memory"
	ExportBufferAddress = "__wasm_get_buffer_address"
	ExportBufferSize    = "__wasm_get_buffer_size"
	ExportName          = "__wasm_shim_name"
	ExportTeamName      = "__wasm_shim_team_name"
	ExportAct           = "__wasm_shim_act"
)

var playerExports = []struct {
	name            string
	params, results int
}{
	{ExportBufferAddress, 0, 1},
	{ExportBufferSize, 0, 1},
	{ExportName, 0, 1},
	{ExportTeamName, 0, 1},
	{ExportAct, 4, 1},
}

// Player is an agent module exposing the arena ABI.
type Player struct {
	*Store
	digest string
}

// Digest is the SHA-256 of the source the player was built from.
func (p *Player) Digest() string { return p.digest }

func (p *Player) Name() (string, error) {
	return Invoke(p.Store, ExportName, encoding.StringCodec)
}

func (p *Player) TeamName() (string, error) {
	return Invoke(p.Store, ExportTeamName, encoding.StringCodec)
}

// Act hands the agent its view and the outcome of its previous action.
func (p *Player) Act(view protocol.WorldView) (protocol.Action, error) {
	return Invoke(p.Store, ExportAct, encoding.ActionCodec,
		encoding.ViewCodec.Encode(view.Surroundings),
		encoding.ResultCodec.Encode(view.LastResult))
}
