package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfioctl "github.com/frobware/go-vfioctl"
)

func TestResolveTargets(t *testing.T) {
	managed := []vfioctl.Address{
		vfioctl.MustParseAddress("0000:01:00.0"),
		vfioctl.MustParseAddress("0000:02:00.0"),
	}

	t.Run("no args selects all managed devices", func(t *testing.T) {
		got, err := resolveTargets(nil, managed)
		require.NoError(t, err)
		assert.Equal(t, managed, got)
	})

	t.Run("short and full forms both resolve", func(t *testing.T) {
		got, err := resolveTargets([]string{"02:00.0", "0000:01:00.0"}, managed)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "0000:02:00.0", got[0].String())
		assert.Equal(t, "0000:01:00.0", got[1].String(), "argument order preserved")
	})

	t.Run("unmanaged device rejected before any mutation", func(t *testing.T) {
		_, err := resolveTargets([]string{"03:00.0"}, managed)
		var notFound vfioctl.DeviceNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "03:00.0", notFound.Raw)
	})

	t.Run("unparseable address rejected", func(t *testing.T) {
		_, err := resolveTargets([]string{"nonsense"}, managed)
		require.Error(t, err)
	})
}
