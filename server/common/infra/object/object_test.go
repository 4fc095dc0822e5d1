package object

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpload(t *testing.T) {
	s := NewMemoryStore("http://localhost:8080/blobs/")
	uri, err := s.Upload(context.Background(), "rooms/r1/image/m1-a b.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/rooms/r1/image/m1-a%20b.png", uri)

	obj, ok := s.Get("rooms/r1/image/m1-a b.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, []byte("png"), obj.Data)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestS3URL(t *testing.T) {
	s := &S3Store{bucket: "halo-media", region: "eu-west-1"}
	assert.Equal(t, "https://halo-media.s3.eu-west-1.amazonaws.com/rooms/r1/video/m1-clip.mp4", s.URL("rooms/r1/video/m1-clip.mp4"))

	s.publicBaseURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/rooms/r1/video/m1-clip.mp4", s.URL("rooms/r1/video/m1-clip.mp4"))
}
