package service

import (
	"bytes"
	"context"
	"image"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo_server/server/halo/domain"
)

func TestObjectPaths(t *testing.T) {
	assert.Equal(t, "rooms/r1/image/m1-photo.png", objectPath("r1", domain.ContentImage, "m1", "photo.png"))
	assert.Equal(t, "rooms/r1/custom/m1-passwd", objectPath("r1", domain.ContentCustom, "m1", "../../etc/passwd"))
	assert.Equal(t, "rooms/r1/audio/m1-file", objectPath("r1", domain.ContentAudio, "m1", "  "))
	assert.Equal(t, "rooms/r1/image/m1-photo_thumb.jpg", thumbnailPath("rooms/r1/image/m1-photo.png"))
	assert.Equal(t, "r_sum_.txt", sanitizeName(`C:\docs\r sum?.txt`))
}

func TestMakeThumbnailBoundsSize(t *testing.T) {
	thumb, err := makeThumbnail(tinyPNG(t))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(thumbnailSize, thumbnailSize), img.Bounds().Size())

	_, err = makeThumbnail([]byte("garbage"))
	require.Error(t, err)
}

func TestLocalSendGuard(t *testing.T) {
	ctx := context.Background()
	g := NewLocalSendGuard()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	key := sendGuardKey("r1", "alice", "c1")
	assert.Equal(t, "halo:message:idempotency:r1:alice:c1", key)

	id, claimed, err := g.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, id)

	id, claimed, err = g.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, id)

	require.NoError(t, g.Complete(ctx, key, "m1", time.Hour))
	id, claimed, err = g.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "m1", id)

	now = now.Add(2 * time.Hour)
	_, claimed, err = g.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, g.Release(ctx, key))
	_, claimed, err = g.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}
