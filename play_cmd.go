package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/narratekit/narrate/blob"
	"github.com/narratekit/narrate/highlight"
	"github.com/narratekit/narrate/player"
	"github.com/narratekit/narrate/store"
)

var (
	playFrom     float64
	playHeadless bool

	playCmd = &cobra.Command{
		Use:   "play CONTENT_ID",
		Short: "Play cached narration for a content id",
		Long: "\nPlay previously generated narration from the local cache. Playback\n" +
			"runs the cached segments back to back as one continuous timeline.",
		Args: cobra.ExactArgs(1),
		RunE: runPlay,
	}
)

func init() {
	playCmd.Flags().Float64VarP(&playFrom, "from", "f", 0, "start position on the timeline, in seconds")
	playCmd.Flags().BoolVar(&playHeadless, "headless", false, "advance the timeline without producing sound")
}

func runPlay(_ *cobra.Command, args []string) error {
	contentID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	registry := blob.NewRegistry()
	hl := highlight.New()

	var element player.MediaElement
	if playHeadless {
		element = player.NewClockElement(registry, cfg.SampleRate, cfg.Channels)
	} else {
		element, err = player.NewPlatformElement(registry, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return fmt.Errorf("unable to initialize audio output: %w", err)
		}
	}

	controller := player.NewController(element, registry, s, hl)
	defer controller.Close() //nolint:errcheck

	hl.OnChange(func(key *string) {
		if key != nil {
			fmt.Printf("\n▸ %s\n", *key)
		}
	})

	controller.SetVolume(cfg.Volume)
	if err := controller.Load(contentID); err != nil {
		return err
	}
	if err := controller.Play(); err != nil {
		return err
	}
	if playFrom > 0 {
		if err := controller.Seek(playFrom); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	total := controller.Duration()
	for {
		select {
		case <-sig:
			fmt.Println("\nstopped")
			return controller.Stop()
		case <-ticker.C:
			snap := controller.Snapshot()
			fmt.Printf("\r%s / %s  [%s]   ",
				formatClock(snap.CumulativeElapsed), formatClock(total), snap.State)
			if snap.State == player.StateEnded {
				fmt.Println()
				return nil
			}
			if err := controller.LastError(); err != nil && snap.State == player.StateIdle {
				return err
			}
		}
	}
}

func formatClock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
