// Package app wires configuration, the model clients, storage and the HTTP
// surface into a running service.
package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"farmchain/internal/agronomy"
	"farmchain/internal/config"
	"farmchain/internal/domain"
	"farmchain/internal/httpserver"
	"farmchain/internal/llm"
	"farmchain/internal/pipeline"
	"farmchain/internal/storage/sqlite"
)

func Main() {
	stdinMode := flag.Bool("stdin", false, "read one JSON analysis request from stdin, write the result to stdout, exit")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded .env")
	}

	cfg := config.LoadConfig()
	log.Printf("Config loaded. Provider=%s Model=%s Timeout=%ds DBPath=%s RetentionDays=%d",
		cfg.LLMProvider, modelName(cfg), cfg.RequestTimeout, cfg.DBPath, cfg.RetentionDays)

	tables := agronomy.Default()
	if cfg.TablesPath != "" {
		loaded, err := agronomy.Load(cfg.TablesPath)
		if err != nil {
			log.Fatalf("Failed to load agronomy tables from %s: %v", cfg.TablesPath, err)
		}
		tables = loaded
		log.Printf("Loaded agronomy tables from %s", cfg.TablesPath)
	}

	client := newClient(cfg)
	orch := pipeline.New(client, client, tables, time.Duration(cfg.RequestTimeout)*time.Second)
	orch.JSONTemperature = cfg.JSONTemperature
	orch.TextTemperature = cfg.TextTemperature

	if *stdinMode {
		runStdin(orch)
		return
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	startRetentionJob(db, cfg.RetentionDays)

	log.Println("Starting soil advisory service...")
	srv := httpserver.New(orch, db)
	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func modelName(cfg config.Config) string {
	if cfg.LLMProvider == "anthropic" {
		if cfg.AnthropicModel != "" {
			return cfg.AnthropicModel
		}
		return "default"
	}
	return cfg.OllamaModel
}

func newClient(cfg config.Config) llm.Client {
	if cfg.LLMProvider == "anthropic" {
		return llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	return llm.NewOllama(cfg.OllamaEndpoint, cfg.OllamaModel, "json")
}

// startRetentionJob purges analysis history past the retention window, daily.
func startRetentionJob(db *sql.DB, retentionDays int) {
	c := cron.New()
	_, err := c.AddFunc("0 3 * * *", func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		purged, err := sqlite.PurgeBefore(db, cutoff)
		if err != nil {
			log.Printf("retention purge err=%v", err)
			return
		}
		log.Printf("retention purge removed=%d cutoff=%s", purged, cutoff.Format("2006-01-02"))
	})
	if err != nil {
		log.Fatalf("Failed to schedule retention job: %v", err)
	}
	c.Start()
}

// runStdin is the one-shot bridge mode: a single JSON request in, a single
// JSON result out. Admission failures produce a failure document rather than
// a bare exit so callers always get parseable output.
func runStdin(orch *pipeline.Orchestrator) {
	var req domain.AnalysisRequest
	dec := json.NewDecoder(bufio.NewReader(os.Stdin))
	if err := dec.Decode(&req); err != nil {
		writeStdinFailure(fmt.Sprintf("invalid JSON input: %v", err))
		os.Exit(1)
	}

	result, err := orch.Analyze(context.Background(), req)
	if err != nil {
		writeStdinFailure(err.Error())
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encoding result: %v", err)
	}
}

func writeStdinFailure(msg string) {
	doc := map[string]any{
		"version": domain.Version,
		"success": false,
		"error":   msg,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(doc)
}
