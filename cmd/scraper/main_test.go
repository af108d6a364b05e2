package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bizscraper/internal/entity"
)

// TestBuildSeed verifies files and flags are merged into one seed
func TestBuildSeed(t *testing.T) {
	dir := t.TempDir()
	targets := filepath.Join(dir, "targets.csv")
	require.NoError(t, os.WriteFile(targets, []byte("url,location\nhttps://dir.example/list,Springfield\n"), 0o644))
	names := filepath.Join(dir, "names.csv")
	require.NoError(t, os.WriteFile(names, []byte("business_name\nAcme Corp\n"), 0o644))

	var opts options
	flags := newFlagSet(&opts)
	require.NoError(t, flags.Parse([]string{
		"--targets", targets,
		"--names", names,
		"--url", "https://dir.example/other",
		"--business", " Globex ", "--business", " ",
		"--location", "Shelbyville",
	}))

	seed, err := buildSeed(opts)
	require.NoError(t, err)
	assert.Equal(t, entity.RunSeed{
		Targets: []entity.SeedTarget{
			{URL: "https://dir.example/list", Location: "Springfield"},
			{URL: "https://dir.example/other"},
		},
		Names:    []entity.SeedName{{Name: "Acme Corp"}, {Name: "Globex"}},
		Location: "Shelbyville",
	}, seed)
}

// TestRun_InvalidInvocations verifies usage errors exit with code 2 before any network activity
func TestRun_InvalidInvocations(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.Equal(t, 2, run([]string{"--no-such-flag"}))
	assert.Equal(t, 2, run([]string{"--checkpoint-backend", "memory"}))
	assert.Equal(t, 2, run([]string{"--business", "Acme", "--stop-after", "export"}))
	assert.Equal(t, 2, run([]string{"--targets", "missing.csv"}))
	assert.Equal(t, 2, run([]string{"--business", "Acme", "--search-provider", "nope", "--checkpoint-backend", "memory"}))
}
