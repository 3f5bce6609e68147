package main

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
	"github.com/pershinghar/go-device-session/pkg/util"
)

// archiver turns the published outputs back into a replay file, one
// namespace per source device.
type archiver struct {
	store    *replay.Store
	verbose  bool
	received atomic.Int64
}

func (a *archiver) processRawData(data *models.RawData) error {
	if data.SourceID == "" || data.ChunkID == "" {
		return fmt.Errorf("incomplete message from collection %q", data.CollectionID)
	}
	a.received.Add(1)

	if data.Payload == nil {
		log.Printf("[parser] %s gen %d: %q timed out (collection %s)",
			data.SourceID, data.Generation, data.ChunkID, data.CollectionID)
	} else {
		log.Printf("[parser] %s gen %d: %q %d bytes at %s (collection %s)",
			data.SourceID, data.Generation, data.ChunkID, len(*data.Payload),
			data.Timestamp.Format(time.RFC3339), data.CollectionID)
		if a.verbose {
			for i, line := range strings.Split(*data.Payload, "\n") {
				log.Printf("[parser]   [%d] %s", i+1, util.SanitizeForLog(line))
			}
		}
	}

	if a.store != nil {
		a.store.Record(data.SourceID, data.Generation, data.ChunkID, data.Payload)
	}
	return nil
}
