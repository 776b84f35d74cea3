package validate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/touchon/flowbus/internal/shared/errors"
)

func runValidate(t *testing.T, content string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_OK(t *testing.T) {
	out, err := runValidate(t, `
nodes:
  - id: sensor
    type: in
    server: attic
`)
	require.NoError(t, err)
	assert.Contains(t, out, "0 servers, 1 nodes")
	assert.Contains(t, out, `node "sensor" references undefined server "attic"`)
}

func TestValidate_Invalid(t *testing.T) {
	_, err := runValidate(t, "nodes:\n  - id: a\n    type: out\n")
	require.Error(t, err)
	assert.True(t, flowerrors.IsConfigurationError(err))
}

func TestValidate_RequiresFile(t *testing.T) {
	cmd := NewCommand()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
