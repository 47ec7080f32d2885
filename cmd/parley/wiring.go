package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/action"
	"github.com/stupiduntilnot/parley/internal/channel"
	"github.com/stupiduntilnot/parley/internal/channel/browser"
	"github.com/stupiduntilnot/parley/internal/channel/dummy"
	"github.com/stupiduntilnot/parley/internal/channel/telegram"
	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/config"
	"github.com/stupiduntilnot/parley/internal/loop"
	"github.com/stupiduntilnot/parley/internal/protocol"
)

func newRouter(cfg config.Config, log *zap.Logger) (*protocol.Router, []protocol.Route, error) {
	workspace, memory, logsDir, _, err := cfg.Paths()
	if err != nil {
		return nil, nil, err
	}
	routes, err := action.Routes(action.Options{
		WorkspaceDir:   workspace,
		MemoryDir:      memory,
		LogsDir:        logsDir,
		CommandTimeout: time.Duration(cfg.Command.TimeoutSeconds) * time.Second,
		Shell:          cfg.Command.Shell,
		Denylist:       cfg.Command.DenylistEntries(),
		Limits:         action.Limits{MaxLines: cfg.Command.MaxOutputLines, MaxBytes: cfg.Command.MaxOutputBytes},
		Log:            log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build routes: %w", err)
	}
	router, err := protocol.NewRouter(log.Named("router"), routes...)
	if err != nil {
		return nil, nil, fmt.Errorf("build router: %w", err)
	}
	return router, routes, nil
}

func instructions(cfg config.Config, routes []protocol.Route) string {
	_, _, logsDir, _, err := cfg.Paths()
	if err != nil {
		logsDir = cfg.LogsDir
	}
	return protocol.Instructions(routes, logsDir)
}

func newChannel(cfg config.Config, log *zap.Logger) (channel.Channel, error) {
	switch cfg.Channel {
	case config.ChannelBrowser:
		return browser.New(browser.Config{
			DebuggerAddr:      cfg.Browser.DebuggerAddr,
			ChatURL:           cfg.Browser.ChatURL,
			Headless:          cfg.Browser.Headless,
			Bin:               cfg.Browser.Bin,
			InputSelectors:    cfg.Browser.InputSelectors,
			SendSelectors:     cfg.Browser.SendSelectors,
			ResponseSelectors: cfg.Browser.ResponseSelectors,
			NavigationTimeout: time.Duration(cfg.Browser.NavigationTimeoutSeconds) * time.Second,
		}, log.Named("browser")), nil
	case config.ChannelTelegram:
		client := telegram.NewClient(cfg.Telegram.BotURL(), time.Duration(cfg.Telegram.RequestTimeoutSeconds)*time.Second)
		return telegram.New(client, telegram.Options{
			ChatID:         cfg.Telegram.ChatID,
			PollTimeout:    cfg.Telegram.PollTimeoutSeconds,
			TranscriptSize: cfg.Telegram.TranscriptSize,
			Log:            log.Named("telegram"),
		}), nil
	case config.ChannelDummy:
		return dummy.New(cfg.Dummy.PollScript, cfg.Dummy.SendScript)
	default:
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}

func loopConfig(cfg config.Config, routes []protocol.Route) loop.Config {
	return loop.Config{
		Interval:     cfg.Loop.Interval(),
		RefreshEvery: cfg.Loop.RefreshEvery,
		HistorySize:  cfg.Loop.HistorySize,
		ChunkLimit:   chunk.MaxContentLength,
		ChunkDelay:   cfg.Loop.ChunkDelay(),
		SettleDelay:  cfg.Loop.SettleDelay(),
		Greeting:     cfg.Loop.Greeting,
		Instructions: instructions(cfg, routes),
	}
}
