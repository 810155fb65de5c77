// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestLocationNames(t *testing.T) {
	assert.Equal(t, "HOST", Host.String())
	assert.Equal(t, "HOST PINNED", HostPinned.String())
	assert.Equal(t, "DEVICE", Device.String())
	assert.Equal(t, "UNIFIED", Unified.String())
	assert.Equal(t, "", Undefined.String())
	assert.Equal(t, "", Location(17).String())

	for _, loc := range Concrete {
		require.True(t, loc.Valid())
		parsed, err := ParseLocation(loc.String())
		require.NoError(t, err)
		require.Equal(t, loc, parsed)
	}
	require.False(t, Undefined.Valid())

	parsed, err := ParseLocation("host_pinned")
	require.NoError(t, err)
	require.Equal(t, HostPinned, parsed)
	parsed, err = ParseLocation("Managed")
	require.NoError(t, err)
	require.Equal(t, Unified, parsed)
	_, err = ParseLocation("tape")
	require.Error(t, err)
}

func TestLocationClasses(t *testing.T) {
	assert.True(t, Host.IsHostClass())
	assert.True(t, HostPinned.IsHostClass())
	assert.False(t, Device.IsHostClass())
	assert.True(t, Device.IsDeviceClass())
	assert.True(t, Unified.IsDeviceClass())
	assert.False(t, Undefined.IsHostClass())
	assert.False(t, Undefined.IsDeviceClass())
}

func TestLocationYAML(t *testing.T) {
	type holder struct {
		Where  Location `json:"where"`
		Policy Policy   `json:"policy"`
	}
	var h holder
	require.NoError(t, yaml.Unmarshal([]byte("where: host_pinned\npolicy: device\n"), &h))
	require.Equal(t, HostPinned, h.Where)
	require.Equal(t, ExecDevice, h.Policy)

	out, err := yaml.Marshal(holder{Where: Unified, Policy: ExecHost})
	require.NoError(t, err)
	require.Equal(t, "policy: host\nwhere: unified\n", string(out))

	require.Error(t, yaml.Unmarshal([]byte("where: somewhere\n"), &h))
}

func TestResolve(t *testing.T) {
	gpu := Resolver{HasAccelerator: true, UnifiedAddressing: true, DefaultPolicy: ExecDevice}
	assert.Equal(t, Host, gpu.Resolve(ConceptHost))
	assert.Equal(t, Device, gpu.Resolve(ConceptDevice))
	assert.Equal(t, Unified, gpu.Resolve(ConceptShared))
	assert.Equal(t, Device, gpu.Resolve(ConceptDefault))
	assert.Equal(t, Undefined, gpu.Resolve(Conceptual{}))
	assert.Equal(t, Undefined, gpu.Resolve(nil))

	// Flipping the default policy changes ConceptDefault only.
	gpu.DefaultPolicy = ExecHost
	assert.Equal(t, Host, gpu.Resolve(ConceptDefault))
	assert.Equal(t, Device, gpu.Resolve(ConceptDevice))

	noUnified := Resolver{HasAccelerator: true, DefaultPolicy: ExecDevice}
	assert.Equal(t, Device, noUnified.Resolve(ConceptShared))

	hostOnly := Resolver{DefaultPolicy: ExecHost}
	for _, c := range []Conceptual{ConceptHost, ConceptDevice, ConceptShared, ConceptDefault} {
		assert.Equal(t, Host, hostOnly.Resolve(c), "conceptual %s", c)
	}
	// There is a single physical space without accelerator.
	for _, loc := range Concrete {
		assert.Equal(t, Host, hostOnly.Resolve(loc), "location %s", loc)
		assert.Equal(t, loc, gpu.Resolve(loc), "location %s", loc)
	}
	assert.Equal(t, Undefined, hostOnly.Resolve(Undefined))
}

func TestResolveIdempotent(t *testing.T) {
	resolvers := []Resolver{
		{HasAccelerator: true, UnifiedAddressing: true, DefaultPolicy: ExecDevice},
		{HasAccelerator: true, DefaultPolicy: ExecHost},
		{},
	}
	spaces := []Space{ConceptHost, ConceptDevice, ConceptShared, ConceptDefault, Host, HostPinned, Device, Unified}
	for _, r := range resolvers {
		for _, s := range spaces {
			once := r.Resolve(s)
			require.Equal(t, once, r.Resolve(once), "resolver %+v, space %s", r, s)
		}
	}
}

func TestParseConceptualAndPolicy(t *testing.T) {
	c, err := ParseConceptual("Shared")
	require.NoError(t, err)
	require.Equal(t, ConceptShared, c)
	_, err = ParseConceptual("nowhere")
	require.Error(t, err)

	p, err := ParsePolicy("HOST")
	require.NoError(t, err)
	require.Equal(t, ExecHost, p)
	_, err = ParsePolicy("undefined")
	require.Error(t, err)
	require.Equal(t, "UNDEFINED", ExecUndefined.String())
}
