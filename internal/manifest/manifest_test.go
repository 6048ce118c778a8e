package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	return &Manifest{
		BuildID:   "5f1c0a44-0d3e-4a0e-9f83-3a4d2c1b7e90",
		Name:      "Firebase",
		Version:   "4.1.0",
		Revision:  "a1b2c3d",
		Namespace: "firebase",
		Root:      "firebase-app",
		CreatedAt: time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC),
		LoadOrder: []string{"firebase-app.js", "firebase-auth.js"},
		Targets: []Target{
			{
				Name: "firebase-app", Role: RoleRoot, File: "firebase-app.js", SourceMap: "firebase-app.js.map",
				Compressed: []Compressed{{File: "firebase-app.js.gz", Encoding: "gzip", Size: 10}},
			},
			{Name: "firebase-auth", Role: RoleDependent, File: "firebase-auth.js", Metafile: "firebase-auth.meta.json"},
		},
		Standalone: &Target{Name: "firebase", Role: RoleStandalone, File: "firebase.js"},
	}
}

func TestIntegrity(t *testing.T) {
	// echo -n "" | openssl dgst -sha384 -binary | base64
	assert.Equal(t, "sha384-OLBgp1GsljhM2TJ+sbHjaiH9txEUvgdDTAzHv2P24donTt6/529l+9Ua0vFImLlb", Integrity(nil))
	assert.NotEqual(t, Integrity([]byte("a")), Integrity([]byte("b")))
}

func TestManifest_Files(t *testing.T) {
	m := sampleManifest()

	assert.Equal(t, []string{
		"firebase-app.js",
		"firebase-app.js.map",
		"firebase-app.js.gz",
		"firebase-auth.js",
		"firebase.js",
	}, m.Files())
}

func TestManifest_Target(t *testing.T) {
	m := sampleManifest()

	got, ok := m.Target("firebase-auth")
	require.True(t, ok)
	assert.Equal(t, RoleDependent, got.Role)

	got, ok = m.Target("firebase")
	require.True(t, ok)
	assert.Equal(t, RoleStandalone, got.Role)

	_, ok = m.Target("firebase-database")
	assert.False(t, ok)
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	m := sampleManifest()

	require.NoError(t, Write(dir, m))

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"load_order": [`)

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 'fluxpack build' first")
}
