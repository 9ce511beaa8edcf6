package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

var defaults = model.FlowSettings{
	ExponentN:          0.65,
	AltitudeM:          650,
	ApertureDiameterCm: 31,
	AutoTest:           model.AutoTestN50,
}

func TestSaveThenLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data", "settings.json"))
	want := model.FlowSettings{
		VolumeM3:           380,
		CoefficientC:       82.4,
		ExponentN:          0.62,
		AltitudeM:          1200,
		ApertureDiameterCm: 18,
		AutoTest:           model.AutoTestN75,
	}

	require.NoError(t, s.SaveSettings(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestLoad_Missing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "settings.json"))
	_, err := s.Load()
	assert.True(t, os.IsNotExist(err))
}

func TestLoadOr(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		got, err := New(filepath.Join(dir, "none.json")).LoadOr(defaults)
		require.NoError(t, err)
		assert.Equal(t, defaults, got)
	})

	t.Run("partial document keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"building_volume": 250, "auto_test_type": "n75"}`), 0644))

		got, err := New(path).LoadOr(defaults)
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.VolumeM3)
		assert.Equal(t, model.AutoTestN75, got.AutoTest)
		assert.Equal(t, 31.0, got.ApertureDiameterCm)
	})

	t.Run("corrupt document", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"building_volume":`), 0644))

		got, err := New(path).LoadOr(defaults)
		assert.Error(t, err)
		assert.Equal(t, defaults, got)
	})
}
