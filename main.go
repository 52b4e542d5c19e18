package main

import (
	"avatalk/audio"
	"avatalk/avatar"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

func main() {
	apiPort := flag.Int("port", 0, "port to host api; the tui is not started")
	cfgPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()
	if err := setup(*cfgPath); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer func() {
		cancel()
		closeCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		bot.Close(closeCtx)
	}()
	if *apiPort > 0 {
		var transcriber audio.Transcriber
		if cfg.STT_ENABLED {
			transcriber = audio.NewTranscriber(logger, cfg)
		}
		srv, err := NewServer(ServerOpts{
			Bot:    bot,
			Config: cfg,
			Logger: logger,
			Tokens: avatar.NewAPIClient("", avatar.APIClientOpts{
				Root:   cfg.AvatarAPIRoot,
				APIKey: cfg.AvatarAPIKey,
				Logger: logger,
			}),
			Transcriber: transcriber,
		})
		if err != nil {
			logger.Error("failed to create server", "error", err)
			return
		}
		if err := srv.ListenToRequests(strconv.Itoa(*apiPort)); err != nil {
			logger.Error("server stopped", "error", err)
		}
		return
	}
	initTUI()
	pages.AddPage("main", flex, true, true)
	if err := app.SetRoot(pages,
		true).EnableMouse(true).EnablePaste(true).Run(); err != nil {
		logger.Error("failed to start tview app", "error", err)
		return
	}
}
