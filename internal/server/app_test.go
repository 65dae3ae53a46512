package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/logging"
	"github.com/pashudhan/fieldsync/internal/server/auth"
	"github.com/pashudhan/fieldsync/internal/server/blobstore"
	"github.com/pashudhan/fieldsync/internal/server/config"
	"github.com/pashudhan/fieldsync/internal/server/repositories/repomanager"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = config.MemoryDSN
	c.EndpointAddrGRPC = "127.0.0.1:0"
	return c
}

func TestNewApp_MemoryBackend(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig(), logging.Nop())
	require.NoError(t, err)

	assert.IsType(t, &repomanager.MemoryManager{}, app.repos)
	assert.Equal(t, "memory", app.backend())
}

func TestOpenBlobs(t *testing.T) {
	c := memoryConfig()
	blobs, err := openBlobs(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.MemoryStore{}, blobs)

	c.DatabaseDSN = "postgres://unused"
	c.S3Bucket = ""
	blobs, err = openBlobs(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.MemoryStore{}, blobs)

	c.S3Bucket = "fieldsync"
	blobs, err = openBlobs(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.S3Store{}, blobs)
}

func TestMintToken(t *testing.T) {
	c := memoryConfig()

	token, err := MintToken(c, "worker-7")
	require.NoError(t, err)

	userID, err := auth.GetUserIDFromToken(token, []byte(c.SecretKey))
	require.NoError(t, err)
	assert.Equal(t, "worker-7", userID)

	_, err = MintToken(c, "")
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig(), logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}
