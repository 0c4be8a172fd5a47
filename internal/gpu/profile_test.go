package gpu_test

import (
	"testing"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commands(t *testing.T, sources []gpu.Source) map[string][]string {
	t.Helper()
	out := make(map[string][]string, len(sources))
	for _, s := range sources {
		cs, ok := s.(*gpu.CommandSource)
		require.True(t, ok, s.ID())
		out[s.ID()] = cs.Command()
	}

	return out
}

func TestBuildProfileROCmJSON(t *testing.T) {
	sources, err := gpu.BuildProfile(gpu.ProfileROCmJSON, &fakeRunner{}, gpu.ProfileConfig{RyzenAdjSudo: true})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		gpu.SourceRyzenAdj: {"sudo", "ryzenadj", "-i", "--json"},
		gpu.SourceROCmJSON: {"rocm-smi", "-a", "--showmeminfo", "vram", "--json"},
	}, commands(t, sources))
}

func TestBuildProfileROCmJSONWithoutSudo(t *testing.T) {
	sources, err := gpu.BuildProfile(gpu.ProfileROCmJSON, &fakeRunner{}, gpu.ProfileConfig{
		RyzenAdj: "/usr/local/bin/ryzenadj",
		ROCmSMI:  "/opt/rocm/bin/rocm-smi",
	})
	require.NoError(t, err)

	cmds := commands(t, sources)
	assert.Equal(t, []string{"/usr/local/bin/ryzenadj", "-i", "--json"}, cmds[gpu.SourceRyzenAdj])
	assert.Equal(t, "/opt/rocm/bin/rocm-smi", cmds[gpu.SourceROCmJSON][0])
}

func TestBuildProfileROCmText(t *testing.T) {
	sources, err := gpu.BuildProfile(gpu.ProfileROCmText, &fakeRunner{}, gpu.ProfileConfig{})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		gpu.SourceROCmClocks:  {"rocm-smi", "--showclocks"},
		gpu.SourceROCmTemp:    {"rocm-smi", "--showtemp"},
		gpu.SourceROCmMemInfo: {"rocm-smi", "--showmeminfo", "vram"},
	}, commands(t, sources))
}

func TestBuildProfileHwmon(t *testing.T) {
	sources, err := gpu.BuildProfile(gpu.ProfileHwmon, nil, gpu.ProfileConfig{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, gpu.SourceHwmon, sources[0].ID())
}

func TestBuildProfileUnknown(t *testing.T) {
	_, err := gpu.BuildProfile("nvidia", &fakeRunner{}, gpu.ProfileConfig{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, gpu.ErrUnknownProfile))
}

func TestProfiles(t *testing.T) {
	assert.Equal(t, []string{gpu.ProfileHwmon, gpu.ProfileROCmJSON, gpu.ProfileROCmText}, gpu.Profiles())
}
