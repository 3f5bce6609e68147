package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
	"github.com/pershinghar/go-device-session/pkg/util"
)

func TestArchiver_RecordsReplayableOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.yaml")
	a := &archiver{store: replay.NewStore(replay.Options{RecordPath: path}), verbose: true}

	clock := "12:00:01 UTC\n\x1b[7mMore\x1b[0m"
	require.NoError(t, a.processRawData(util.NewRawData("c1", "core-sw1", 0, "show clock", &clock)))
	require.NoError(t, a.processRawData(util.NewRawData("c1", "core-sw1", 1, "show version", nil)))
	require.NoError(t, a.processRawData(util.NewRawData("c1", "edge1", 0, "show clock", &clock)))
	assert.EqualValues(t, 3, a.received.Load())
	assert.Equal(t, []string{"core-sw1", "edge1"}, a.store.Namespaces())

	require.NoError(t, a.store.Save())

	replayed := replay.NewStore(replay.Options{ReplayPath: path})
	out, found, err := replayed.Lookup("core-sw1", 0, "show clock")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, clock, *out)

	out, found, err = replayed.Lookup("core-sw1", 1, "show version")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, out)
}

func TestArchiver_RejectsIncompleteMessages(t *testing.T) {
	a := &archiver{}
	err := a.processRawData(&models.RawData{CollectionID: "c1", Timestamp: time.Now()})
	require.ErrorContains(t, err, "incomplete message")
	assert.Zero(t, a.received.Load())

	// Without a store the message is only logged.
	out := "ok"
	require.NoError(t, a.processRawData(util.NewRawData("c1", "r1", 0, "show clock", &out)))
}

func TestLoadRabbitMQConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rabbitmq.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"URL": "amqp://parser:pw@mq.lab:5672/", "QueueName": "lab-archive"}`), 0o600))

	cfg, err := loadRabbitMQConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "lab-archive", cfg.QueueName)
	assert.Equal(t, models.DefaultRabbitMQConfig().Exchange, cfg.Exchange)

	_, err = loadRabbitMQConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "config file not found")
}
