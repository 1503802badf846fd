package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bnema/webmclip/config"
	"github.com/bnema/webmclip/internal/adapter/engine/ffmpeg"
	"github.com/bnema/webmclip/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/webmclip/internal/adapter/storage/sqlite"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/port"
)

var errQueueUnavailable = errors.New("the batch queue needs STORE=sqlite")

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Configure(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	return cfg, nil
}

// stores bundles the persistence chosen by STORE. queue is nil for the JSON
// store.
type stores struct {
	history port.HistoryStore
	queue   port.JobQueue
	close   func() error
}

func openStores(cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	switch cfg.Store {
	case config.StoreJSON:
		s, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open history file: %w", err)
		}
		return &stores{history: s, close: func() error { return nil }}, nil
	default:
		s, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &stores{history: s, queue: sqlitestore.NewJobQueue(s), close: s.Close}, nil
	}
}

func engineOptions(cfg *config.Config) ffmpeg.Options {
	return ffmpeg.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		UseBundled:  cfg.UseBundledFFmpeg,
		BinDir:      cfg.BinDir,
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
