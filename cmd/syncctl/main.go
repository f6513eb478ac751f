// Command syncctl is a reference embedder of the client package: it wires
// an in-memory local store, registers a "widget" entity type, optionally
// enqueues one local Add (the -name flag), and runs a single Synchronize
// against a tableserverd endpoint, mirroring the teacher's env-var-driven
// cmd/server/main.go wiring style applied to the client side of the
// contract instead of the server side.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/client"
	"github.com/erauner12/syncengine/entity"
	"github.com/erauner12/syncengine/odata"
	"github.com/erauner12/syncengine/opqueue"
	"github.com/erauner12/syncengine/pull"
	"github.com/erauner12/syncengine/push"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// memoryStore is a minimal client.LocalStore, suitable for demo/CLI use
// only: a real embedder backs this with its own database.
type memoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]any // key: entityType + "/" + id
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[string]map[string]any)}
}

func (m *memoryStore) key(entityType, id string) string { return entityType + "/" + id }

func (m *memoryStore) Get(_ context.Context, entityType, id string) (map[string]any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[m.key(entityType, id)]
	return item, ok, nil
}

func (m *memoryStore) Insert(_ context.Context, entityType string, item map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := item["id"].(string)
	m.items[m.key(entityType, id)] = item
	return nil
}

func (m *memoryStore) Update(_ context.Context, entityType string, item map[string]any) error {
	return m.Insert(context.Background(), entityType, item)
}

func (m *memoryStore) Delete(_ context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, m.key(entityType, id))
	return nil
}

func (m *memoryStore) dump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.items {
		b, _ := json.Marshal(v)
		fmt.Printf("  %s: %s\n", k, b)
	}
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncctl").Logger()
	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	var (
		name  = flag.String("name", "", "name for a new local widget to enqueue")
		token = flag.String("token", "", "bearer token for the table server")
	)
	flag.Parse()

	endpoint := env("SYNCCTL_ENDPOINT", "http://localhost:8080")
	store := newMemoryStore()

	headers := make(map[string][]string)
	if *token != "" {
		headers["Authorization"] = []string{"Bearer " + *token}
	}

	queue := opqueue.NewMemoryStore()

	c, err := client.New(
		client.WithEndpoint(endpoint),
		client.WithClientName("syncctl"),
		client.WithLocalStore(store),
		client.WithDefaultHeaders(headers),
		client.WithMaxRetries(3),
		client.WithOperationsQueueStore(queue),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct client")
	}

	if err := c.RegisterEntity("widget", entity.NewMapAccessor("widget"), "/tables/widget"); err != nil {
		log.Fatal().Err(err).Msg("failed to register widget entity type")
	}

	ctx := context.Background()

	if *name != "" {
		item := map[string]any{"id": entity.NewID(), "name": *name}
		if err := opqueue.Enqueue(ctx, queue, "widget", item["id"].(string), opqueue.KindAdd, item, nil); err != nil {
			log.Fatal().Err(err).Msg("failed to enqueue widget creation")
		}
		log.Info().Str("id", item["id"].(string)).Msg("queued widget creation")
	}

	specs := []client.PullSpec{
		{EntityType: "widget", Query: &odata.QueryDescription{}},
	}

	result, err := c.Synchronize(ctx, specs, push.Options{}, pull.Options{})
	if err != nil {
		log.Error().Err(err).Msg("synchronize failed")
	}
	if result != nil {
		log.Info().
			Int("completed", result.CompletedOperations).
			Int("failed", len(result.Failed)).
			Bool("successful", result.IsSuccessful).
			Msg("push complete")
	}

	fmt.Println("local store contents:")
	store.dump()
}
