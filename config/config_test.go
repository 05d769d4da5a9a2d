package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, RoleHost, c.Role)
	assert.NotEmpty(t, c.Name)
	assert.NotEmpty(t, c.Path)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SHM_ROLE", "enclave")
	t.Setenv("SHM_SLOT_COUNT", "128")
	t.Setenv("SHM_SLOT_SIZE", "8192")
	t.Setenv("SHM_PATH", "/dev/shm/sgx_shm_fixed")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, RoleEnclave, c.Role)
	assert.Equal(t, uint64(128), c.SlotCount)
	assert.Equal(t, uint64(8192), c.SlotSize)
	assert.Equal(t, "/dev/shm/sgx_shm_fixed", c.Path)
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	c := Default()
	c.SlotCount = 100
	require.Error(t, c.Validate())

	c = Default()
	c.SlotSize = 48
	require.Error(t, c.Validate())

	c = Default()
	c.Role = "sidecar"
	require.Error(t, c.Validate())
}
