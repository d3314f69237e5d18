package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `postgresql_host: "host=localhost dbname=media sslmode=disable"
minio:
  url: "localhost:9000"
  access_id: "id"
  secret_access_key: "secret"
  bucket: "media"
server:
  port: "8080"
app:
  environment: "develop"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "media_pipeline_events", cfg.Queue.ExchangeName)
	assert.Equal(t, "topic", cfg.Queue.Kind)
	assert.Equal(t, "ffmpeg", cfg.Media.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.Media.FFprobePath)
	assert.Equal(t, "desktop", cfg.App.DeviceClass)
	assert.Equal(t, "/dev/video0", cfg.Media.Devices["user"])
	assert.Equal(t, "/dev/video1", cfg.Media.Devices["environment"])
}
