package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/extract"
	"github.com/ZiangHu97/paper-sailor/memory"
	"github.com/ZiangHu97/paper-sailor/memory/journal"
	"github.com/ZiangHu97/paper-sailor/planner"
	anthropicprovider "github.com/ZiangHu97/paper-sailor/providers/anthropic"
	"github.com/ZiangHu97/paper-sailor/providers/cache"
	"github.com/ZiangHu97/paper-sailor/providers/mock"
	"github.com/ZiangHu97/paper-sailor/providers/openai"
	"github.com/ZiangHu97/paper-sailor/server"
)

func main() {
	_ = godotenv.Load()

	topic := flag.String("topic", "", "research topic to run a session on")
	itemsPath := flag.String("items", "", "JSON file of pre-extracted content items")
	dataDir := flag.String("data", getEnv("SAILOR_DATA_DIR", "data"), "data directory for sessions, memory and papers")
	serve := flag.Bool("serve", false, "serve the API after (or instead of) running a session")
	addr := flag.String("addr", getEnv("SAILOR_ADDR", ":8080"), "API listen address")
	maxRounds := flag.Int("max-rounds", core.DefaultConfig.MaxRounds, "round cap for the session")
	flag.Parse()

	if *topic == "" && !*serve {
		log.Fatal("nothing to do: pass -topic and/or -serve")
	}

	sessions, err := planner.NewStore(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	papers, err := planner.NewPaperLog(filepath.Join(*dataDir, "papers.jsonl"))
	if err != nil {
		log.Fatalf("paper log: %v", err)
	}

	if *topic != "" {
		runSession(*topic, *itemsPath, *dataDir, *maxRounds, sessions, papers)
	}

	if *serve {
		srv := server.New(sessions, papers)
		if err := srv.ListenAndServe(*addr); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}
}

func runSession(topic, itemsPath, dataDir string, maxRounds int, sessions *planner.Store, papers *planner.PaperLog) {
	cfg := core.DefaultConfig
	cfg.MaxRounds = maxRounds

	embedder, closeEmbedder := buildEmbedder(cfg)
	defer closeEmbedder()
	synth, vision := buildSynthesis()

	// The session comes first: the chunk store and the memory manager are
	// scoped to its id, so two runs on the same topic stay isolated.
	sess := planner.NewSession(topic, cfg.MaxRounds)
	store, err := chunks.NewStore(sess.ID)
	if err != nil {
		log.Fatalf("chunk store: %v", err)
	}
	backend, err := journal.Open(filepath.Join(dataDir, "memory.jsonl"))
	if err != nil {
		log.Fatalf("memory journal: %v", err)
	}
	mem := memory.NewManager(backend, sess.ID, store.Warn)
	pool := extract.NewPool(cfg, vision, embedder, store)
	pool.Warn = store.Warn

	source := &fileSource{path: itemsPath}
	loop := planner.NewLoop(cfg, sess, store, mem, sessions, papers, pool, embedder, synth, source)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		log.Printf("session ended with error: %v", err)
	}
	s := loop.Session()
	fmt.Printf("session %s: %s after %d rounds, %d findings, %d ideas, %d reading list entries\n",
		s.ID, s.Status, s.RoundsCompleted, len(s.Findings), len(s.Ideas), len(s.ReadingList))
}

// buildEmbedder picks the remote embedder when a key is configured and the
// deterministic mock otherwise, wrapping either in the vector cache.
func buildEmbedder(cfg core.Config) (core.EmbeddingProvider, func()) {
	var inner core.EmbeddingProvider
	model := getEnv("SAILOR_EMBEDDING_MODEL", cfg.EmbeddingModel)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := openai.NewClient(openai.Config{
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			APIKey:  key,
			Model:   model,
		})
		if err != nil {
			log.Fatalf("embedding client: %v", err)
		}
		log.Printf("[EMBED] using remote embeddings model=%s", model)
		inner = client
	} else {
		log.Println("[EMBED] OPENAI_API_KEY not set, using deterministic mock embedder")
		inner = mock.NewEmbedder(384)
	}
	cached, err := cache.New(inner, model, 0)
	if err != nil {
		log.Fatalf("embedding cache: %v", err)
	}
	return cached, cached.Close
}

func buildSynthesis() (core.SynthesisProvider, core.VisionProvider) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p := anthropicprovider.New(key, os.Getenv("SAILOR_MODEL"))
		return p, p
	}
	log.Println("[SYNTH] ANTHROPIC_API_KEY not set, using scripted mock synthesis")
	return mock.NewSynthesizer(nil, nil), mock.Vision{}
}

// fileSource serves pre-extracted items from a JSON file, all in round one.
// It stands in for a live paper downloader.
type fileSource struct {
	path string
}

type fileContent struct {
	Papers []core.Paper `json:"papers"`
	Items  []fileItem   `json:"items"`
}

type fileItem struct {
	PaperID   string `json:"paper_id"`
	Type      string `json:"type"`
	Location  string `json:"location"`
	Text      string `json:"text"`
	ImagePath string `json:"image_path"`
	PageFrom  int    `json:"page_from"`
	PageTo    int    `json:"page_to"`
}

func (f *fileSource) Fetch(ctx context.Context, topic string, round int) ([]extract.Item, []core.Paper, error) {
	if f.path == "" || round != 1 {
		return nil, nil, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read items file: %w", err)
	}
	var content fileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, nil, fmt.Errorf("decode items file: %w", err)
	}
	items := make([]extract.Item, 0, len(content.Items))
	for _, it := range content.Items {
		item := extract.Item{
			PaperID:   it.PaperID,
			Type:      core.ContentType(it.Type),
			Location:  it.Location,
			Text:      it.Text,
			PageFrom:  it.PageFrom,
			PageTo:    it.PageTo,
			ImagePath: it.ImagePath,
		}
		if it.ImagePath != "" {
			img, err := os.ReadFile(it.ImagePath)
			if err != nil {
				log.Printf("[EXTRACT] skip image %s: %v", it.ImagePath, err)
			} else {
				item.Image = img
			}
		}
		items = append(items, item)
	}
	return items, content.Papers, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
