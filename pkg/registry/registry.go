// Package registry resolves a module role to a base URL, per spec.md §4.3:
// (a) an absolute URL in the game project manifest wins; (b) otherwise a
// fixed environment variable; (c) otherwise a hardcoded localhost default.
// The registry is pure and deterministic given its inputs.
package registry

import (
	"fmt"
	"net/url"

	"dario.cat/mergo"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
)

// defaultPorts gives each role a distinct localhost default, so a developer
// running every module service on one machine doesn't collide.
var defaultPorts = map[string]int{
	config.RoleIntentExtractor:  9001,
	config.RoleLoremaster:       9002,
	config.RoleDefaultSimulator: 9003,
	config.RoleArbiter:          9004,
	config.RoleProser:           9005,
}

// Registry resolves role → base URL.
type Registry struct {
	envOverrides map[string]string
}

// New builds a Registry from the process's MODULE_<ROLE>_URL environment values.
func New(cfg *config.Config) *Registry {
	return &Registry{envOverrides: cfg.ModuleURLOverrides}
}

// Resolve returns the base URL for role, applying manifestBinding (if an
// absolute http(s) URL) over the environment override over the localhost
// default, in that order of precedence.
func (r *Registry) Resolve(role, manifestBinding string) (string, error) {
	port, ok := defaultPorts[role]
	if !ok {
		return "", fmt.Errorf("registry: unknown module role %q", role)
	}

	resolved := map[string]string{"url": fmt.Sprintf("http://localhost:%d", port)}

	envOverride := map[string]string{}
	if v := r.envOverrides[role]; v != "" {
		envOverride["url"] = v
	}
	if err := mergo.Merge(&resolved, envOverride, mergo.WithOverride); err != nil {
		return "", fmt.Errorf("registry: merging env override for %q: %w", role, err)
	}

	manifestOverride := map[string]string{}
	if isAbsoluteHTTPURL(manifestBinding) {
		manifestOverride["url"] = manifestBinding
	}
	if err := mergo.Merge(&resolved, manifestOverride, mergo.WithOverride); err != nil {
		return "", fmt.Errorf("registry: merging manifest binding for %q: %w", role, err)
	}

	return resolved["url"], nil
}

func isAbsoluteHTTPURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https")
}
