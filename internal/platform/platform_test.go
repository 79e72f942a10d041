package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclab/swsslite/internal/identity"
)

func TestBuiltinDefaults(t *testing.T) {
	d := Builtin()

	assert.Equal(t, []string{
		"Ethernet0", "Ethernet4", "Ethernet8",
		"Ethernet12", "Ethernet16", "Ethernet20",
	}, d.Ports)
	assert.Equal(t, "up", d.AdminStatus)
	assert.Equal(t, "25000", d.Speed)
	assert.Equal(t, "9100", d.MTU)
	assert.Equal(t, identity.DefaultBase, d.OIDBase)
}

func TestLoadEmptyPathReturnsBuiltin(t *testing.T) {
	d, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Builtin(), d)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	content := `
ports:
  - Ethernet0
  - Ethernet8
speed: "100000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ethernet0", "Ethernet8"}, d.Ports)
	assert.Equal(t, "100000", d.Speed)
	// Unset fields keep built-in values.
	assert.Equal(t, "9100", d.MTU)
	assert.Equal(t, "up", d.AdminStatus)
	assert.Equal(t, identity.DefaultBase, d.OIDBase)
}

func TestLoadRejectsEmptyPortList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
