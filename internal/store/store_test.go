package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPlayHistoryDedupWithinWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AppendPlayHistory(ctx, "Song", "Artist", now)
	require.NoError(t, err)

	_, err = s.AppendPlayHistory(ctx, "Song", "Artist", now.Add(100*time.Second))
	assert.ErrorIs(t, err, store.ErrDuplicatePlay)

	_, err = s.AppendPlayHistory(ctx, "Song", "Artist", now.Add(400*time.Second))
	assert.NoError(t, err)
}

func TestTrackMetadataUpsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTrackMetadata(ctx, store.TrackMetadata{
		Hash: "h1", Title: "Moonlight Sonata", Artist: "Beethoven",
	}))
	require.NoError(t, s.UpsertTrackMetadata(ctx, store.TrackMetadata{
		Hash: "h1", Title: "Moonlight Sonata", Artist: "Beethoven", Album: "Piano Sonatas",
	}))

	results, err := s.SearchTrackMetadata(ctx, "Moonlight")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Piano Sonatas", results[0].Album)
}

func TestFingerprintCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertFingerprint(ctx, "fp1", "track1", now))
	entry, err := s.FindFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "track1", entry.TrackHash)

	require.NoError(t, s.DeleteFingerprint(ctx, "fp1"))
	_, err = s.FindFingerprint(ctx, "fp1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestRadioPresetUniqueAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < store.MaxPresets; i++ {
		err := s.UpsertRadioPreset(ctx, store.RadioPreset{
			Name: "preset", Band: "FM", Frequency: 88.0 + float64(i)*0.2,
		})
		require.NoError(t, err)
	}

	err := s.UpsertRadioPreset(ctx, store.RadioPreset{Name: "overflow", Band: "FM", Frequency: 200.0})
	assert.ErrorIs(t, err, store.ErrPresetLimit)

	// Re-saving an existing (band, frequency) under a new name is fine.
	err = s.UpsertRadioPreset(ctx, store.RadioPreset{Name: "renamed", Band: "FM", Frequency: 88.0})
	require.NoError(t, err)

	presets, err := s.ListRadioPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, presets, store.MaxPresets)
}

func TestConfigSectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadConfigSection(ctx, "audio")
	require.Error(t, err)

	require.NoError(t, s.SaveConfigSection(ctx, "audio", "sample_rate: 48000"))
	body, err := s.LoadConfigSection(ctx, "audio")
	require.NoError(t, err)
	assert.Equal(t, "sample_rate: 48000", body)
}
