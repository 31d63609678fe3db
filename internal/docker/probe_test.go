package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

func TestEntryPointCommand(t *testing.T) {
	ref, err := model.ParseEntryPoint("seed_identity_store.wsgi:application")
	require.NoError(t, err)

	cmd := EntryPointCommand("", ref)
	require.Len(t, cmd, 5)
	assert.Equal(t, DefaultPython, cmd[0])
	assert.Equal(t, "-c", cmd[1])
	assert.Contains(t, cmd[2], "importlib.import_module(sys.argv[1])")
	assert.Equal(t, "seed_identity_store.wsgi", cmd[3])
	assert.Equal(t, "application", cmd[4])
}

func TestEntryPointCommand_CustomInterpreter(t *testing.T) {
	cmd := EntryPointCommand("python3", model.EntryPointRef{Module: "app.wsgi", Callable: "App.factory"})
	assert.Equal(t, "python3", cmd[0])
	assert.Equal(t, "App.factory", cmd[4])
}

func TestLastLine(t *testing.T) {
	traceback := "Traceback (most recent call last):\n  File \"<string>\", line 2\nModuleNotFoundError: No module named 'nope'"
	assert.Equal(t, "ModuleNotFoundError: No module named 'nope'", lastLine(traceback))
	assert.Equal(t, "single", lastLine("single"))
	assert.Equal(t, "", lastLine(""))
}
