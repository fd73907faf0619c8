package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/storage"
	vsync "github.com/annel0/voxel-world/internal/sync"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		command = flag.String("cmd", "dump", "Command: dump, quarantine, tail")
		driver  = flag.String("driver", "badger", "Chunk store driver: badger, sqlite")
		path    = flag.String("path", "data/chunks", "Chunk store path")
		coord   = flag.String("chunk", "0:0:0", "Chunk coordinate x:y:z (dump)")
		natsURL = flag.String("nats", "nats://127.0.0.1:4222", "NATS URL (tail)")
		stream  = flag.String("stream", "VOXEL_EVENTS", "JetStream stream (tail)")
		limit   = flag.Int("limit", 0, "Stop after this many batches, 0 follows forever (tail)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch *command {
	case "dump":
		err = withStore(*driver, *path, func(s storage.ChunkStore) error { return dumpChunk(ctx, s, *coord) })
	case "quarantine":
		err = withStore(*driver, *path, func(s storage.ChunkStore) error { return listQuarantine(ctx, s) })
	case "tail":
		err = tailBatches(ctx, *natsURL, *stream, *limit)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: dump, quarantine, tail")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func withStore(driver, path string, fn func(storage.ChunkStore) error) error {
	var (
		s   storage.ChunkStore
		err error
	)
	switch driver {
	case "badger":
		s, err = storage.NewBadgerChunkStore(path)
	case "sqlite":
		s, err = storage.OpenSQLiteChunkStore(path)
	default:
		return fmt.Errorf("unknown driver %q", driver)
	}
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// dumpChunk prints the header and the block histogram of a stored chunk.
func dumpChunk(ctx context.Context, s storage.ChunkStore, raw string) error {
	coord, err := vec.ParseChunkCoord(raw)
	if err != nil {
		return err
	}
	blob, err := s.LoadChunk(ctx, coord)
	if err != nil {
		return err
	}
	data, err := world.DecodeChunk(blob)
	if err != nil {
		return err
	}

	fmt.Printf("🧱 chunk %s: size=%d version=%d last_seq=%d blob=%dB\n",
		data.Coord, data.Size, data.Version, data.LastSeq, len(blob))

	counts := make(map[block.BlockID]int)
	for _, v := range data.Cells {
		counts[v.ID]++
	}
	ids := make([]block.BlockID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return counts[ids[i]] > counts[ids[j]] })

	catalog := block.Default()
	for _, id := range ids {
		name := "?"
		if def, ok := catalog.Get(id); ok {
			name = def.Name
		}
		fmt.Printf("  %5d  %-12s %6d\n", id, name, counts[id])
	}
	if len(data.Meta) > 0 {
		fmt.Printf("  %d cells carry metadata\n", len(data.Meta))
	}
	return nil
}

func listQuarantine(ctx context.Context, s storage.ChunkStore) error {
	entries, err := s.Quarantined(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("✅ quarantine is empty")
		return nil
	}
	fmt.Printf("⚠️ %d quarantined blobs\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %s  %-12s %6dB  %s\n", e.At.UTC().Format(timeFormat), e.Coord, len(e.Data), e.Reason)
	}
	return nil
}

// tailBatches prints every EditBatch published on the stream.
func tailBatches(ctx context.Context, url, stream string, limit int) error {
	bus, err := eventbus.NewJetStreamBus(eventbus.JetStreamConfig{URL: url, Stream: stream})
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := make(chan struct{}, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventEditBatch}}, func(_ context.Context, ev *eventbus.Envelope) {
		printBatch(ev)
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 tailing %s on %s\n", eventbus.EventEditBatch, url)
	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-seen:
			n++
			if limit > 0 && n >= limit {
				return nil
			}
		}
	}
}

func printBatch(ev *eventbus.Envelope) {
	codec, err := vsync.NewCompressor(ev.Metadata[eventbus.MetaCompression])
	if err != nil {
		fmt.Printf("❌ %s from %s: %v\n", ev.ID, ev.Source, err)
		return
	}
	batch, err := codec.Decompress(ev.Payload)
	if err != nil {
		fmt.Printf("❌ %s from %s: %v\n", ev.ID, ev.Source, err)
		return
	}
	fmt.Printf("[%s] %s %d records (%s, %dB)\n",
		ev.Timestamp.UTC().Format(time.RFC3339), ev.Source, len(batch.Records), codec.Name(), len(ev.Payload))
	for i := range batch.Records {
		fmt.Printf("  %s\n", batch.Records[i].String())
	}
}
