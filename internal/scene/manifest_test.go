package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestOrderIsStable(t *testing.T) {
	a := SceneManifest().Addresses()
	b := SceneManifest().Addresses()
	assert.Equal(t, a, b)
	assert.Equal(t, len(a), SceneManifest().Total())
}

func TestManifestHasNoDuplicates(t *testing.T) {
	for name, man := range map[string]*Manifest{
		"scene":  SceneManifest(),
		"backup": BackupManifest(),
	} {
		seen := make(map[string]struct{})
		for _, addr := range man.Addresses() {
			_, dup := seen[addr]
			require.False(t, dup, "%s manifest repeats %s", name, addr)
			seen[addr] = struct{}{}
		}
	}
}

func TestBackupManifestSupersetOfScene(t *testing.T) {
	inBackup := make(map[string]struct{})
	for _, addr := range BackupManifest().Addresses() {
		inBackup[addr] = struct{}{}
	}
	for _, addr := range SceneManifest().Addresses() {
		_, ok := inBackup[addr]
		require.True(t, ok, "scene address %s missing from backup manifest", addr)
	}

	// The backup walk additionally covers every slot header.
	assert.Contains(t, BackupManifest().Addresses(), "/-show/showfile/scene/000/name")
	assert.Contains(t, BackupManifest().Addresses(), "/-show/showfile/snippet/099/name")
	assert.NotContains(t, SceneManifest().Addresses(), "/-show/showfile/scene/000/name")
}

func TestSectionFor(t *testing.T) {
	man := SceneManifest()
	addrs := man.Addresses()

	// The first address belongs to the first section, the last to the last.
	assert.Equal(t, man.Sections[0].Label, man.SectionFor(0))
	assert.Equal(t, man.Sections[len(man.Sections)-1].Label, man.SectionFor(len(addrs)-1))

	// Walking the flattened list never leaves the declared sections.
	for i := range addrs {
		assert.NotEmpty(t, man.SectionFor(i))
	}
}
