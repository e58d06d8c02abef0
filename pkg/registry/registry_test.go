package registry

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
)

func TestResolve_PrecedenceOrder(t *testing.T) {
	t.Run("no override and no binding falls back to localhost default", func(t *testing.T) {
		cfg := &config.Config{ModuleURLOverrides: map[string]string{}}
		r := New(cfg)
		url, err := r.Resolve(config.RoleArbiter, "")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9004", url)
	})

	t.Run("env override wins over the default", func(t *testing.T) {
		cfg := &config.Config{ModuleURLOverrides: map[string]string{
			config.RoleArbiter: "http://arbiter.internal:8080",
		}}
		r := New(cfg)
		url, err := r.Resolve(config.RoleArbiter, "")
		require.NoError(t, err)
		assert.Equal(t, "http://arbiter.internal:8080", url)
	})

	t.Run("absolute manifest binding wins over the env override", func(t *testing.T) {
		cfg := &config.Config{ModuleURLOverrides: map[string]string{
			config.RoleArbiter: "http://arbiter.internal:8080",
		}}
		r := New(cfg)
		url, err := r.Resolve(config.RoleArbiter, "https://manifest-bound-arbiter.example.com")
		require.NoError(t, err)
		assert.Equal(t, "https://manifest-bound-arbiter.example.com", url)
	})

	t.Run("non-absolute manifest binding is ignored", func(t *testing.T) {
		cfg := &config.Config{ModuleURLOverrides: map[string]string{}}
		r := New(cfg)
		url, err := r.Resolve(config.RoleProser, "not-a-url")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9005", url)
	})

	t.Run("unknown role is an error", func(t *testing.T) {
		cfg := &config.Config{ModuleURLOverrides: map[string]string{}}
		r := New(cfg)
		_, err := r.Resolve("nonexistent_role", "")
		assert.Error(t, err)
	})

	for role, port := range map[string]int{
		config.RoleIntentExtractor:  9001,
		config.RoleLoremaster:       9002,
		config.RoleDefaultSimulator: 9003,
		config.RoleArbiter:          9004,
		config.RoleProser:           9005,
	} {
		role, port := role, port
		t.Run("distinct default port for "+role, func(t *testing.T) {
			cfg := &config.Config{ModuleURLOverrides: map[string]string{}}
			r := New(cfg)
			url, err := r.Resolve(role, "")
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:"+strconv.Itoa(port), url)
		})
	}
}
