// ABOUTME: Ordered registry of decoder plugins with per-plugin enablement
// ABOUTME: Resolves candidates for a resource by suffix, then by MIME type
package decoder

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/input"
	"github.com/Resonate-Protocol/resonated/internal/logging"
)

type entry struct {
	plugin  Plugin
	enabled bool
}

// Registry holds plugins in priority order.
type Registry struct {
	log     *slog.Logger
	entries []entry
}

// NewRegistry registers plugins in the given order. Every plugin starts
// disabled until Init runs.
func NewRegistry(logger *slog.Logger, plugins ...Plugin) *Registry {
	r := &Registry{log: logging.Or(logger)}
	for _, p := range plugins {
		r.entries = append(r.entries, entry{plugin: p})
	}
	return r
}

// Init initializes every plugin with its block from blocks. A plugin that
// is disabled in its block or fails to initialize is skipped for the rest
// of the process; the failure is logged once.
func (r *Registry) Init(blocks map[string]config.Block) {
	for i := range r.entries {
		e := &r.entries[i]
		name := e.plugin.Name()
		block := blocks[name]
		if block == nil {
			block = config.Block{}
		}
		if !block.Enabled() {
			r.log.Info("decoder plugin disabled by configuration", "plugin", name)
			continue
		}
		if err := e.plugin.Init(block); err != nil {
			r.log.Warn("decoder plugin failed to initialize", "plugin", name, "err", err)
			continue
		}
		e.enabled = true
	}
}

// Enabled returns the usable plugins in order.
func (r *Registry) Enabled() []Plugin {
	var out []Plugin
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.plugin)
		}
	}
	return out
}

// Lookup returns an enabled plugin by name.
func (r *Registry) Lookup(name string) Plugin {
	for _, e := range r.entries {
		if e.enabled && e.plugin.Name() == name {
			return e.plugin
		}
	}
	return nil
}

// BySuffix returns enabled plugins claiming the file suffix.
func (r *Registry) BySuffix(suffix string) []Plugin {
	suffix = strings.ToLower(suffix)
	var out []Plugin
	for _, p := range r.Enabled() {
		if slices.Contains(p.Suffixes(), suffix) {
			out = append(out, p)
		}
	}
	return out
}

// ByMIME returns enabled plugins claiming the MIME type.
func (r *Registry) ByMIME(mime string) []Plugin {
	var out []Plugin
	for _, p := range r.Enabled() {
		if slices.Contains(p.MIMETypes(), mime) {
			out = append(out, p)
		}
	}
	return out
}

// SupportsSuffix reports whether any enabled plugin claims suffix.
func (r *Registry) SupportsSuffix(suffix string) bool {
	return len(r.BySuffix(suffix)) > 0
}

// Candidates returns the plugins to try for a resource: suffix matches
// first, then MIME matches, each plugin at most once.
func (r *Registry) Candidates(uri, mime string) []Plugin {
	out := r.BySuffix(input.Suffix(input.StripSuffix(uri, "gz")))
	if mime != "" {
		for _, p := range r.ByMIME(mime) {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}
