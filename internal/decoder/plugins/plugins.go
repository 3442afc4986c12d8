// ABOUTME: Built-in decoder plugin list in lookup priority order
// ABOUTME: Registry construction helper used by the daemon and the CLI
package plugins

import (
	"log/slog"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/decoder"
)

// All returns every built-in plugin, highest priority first.
func All(logger *slog.Logger) []decoder.Plugin {
	return []decoder.Plugin{
		NewWAV(logger),
		NewFLAC(logger),
		NewMP3(logger),
		NewOpus(logger),
		NewMIDI(logger, nil),
	}
}

// NewRegistry registers All and initializes each plugin from its block.
func NewRegistry(logger *slog.Logger, blocks map[string]config.Block) *decoder.Registry {
	reg := decoder.NewRegistry(logger, All(logger)...)
	reg.Init(blocks)
	return reg
}
