package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/narratekit/narrate/generation"
	"github.com/narratekit/narrate/quota"
	"github.com/narratekit/narrate/store"
)

var (
	generateVoice    string
	generateLanguage string
	generateForce    bool

	generateCmd = &cobra.Command{
		Use:   "generate CONTENT_ID",
		Short: "Generate narration audio and store it in the cache",
		Long: "\nRequest narration for a content id from the configured provider,\n" +
			"download the resulting segments and persist them in the local cache.",
		Args: cobra.ExactArgs(1),
		RunE: runGenerate,
	}
)

func init() {
	generateCmd.Flags().StringVarP(&generateVoice, "voice", "v", "", "voice id (overrides config)")
	generateCmd.Flags().StringVarP(&generateLanguage, "language", "l", "", "language code (overrides config)")
	generateCmd.Flags().BoolVar(&generateForce, "force", false, "regenerate even when a cached entry exists")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	contentID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if generateVoice != "" {
		cfg.VoiceID = generateVoice
	}
	if generateLanguage != "" {
		cfg.Language = generateLanguage
	}

	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if !generateForce && s.Has(contentID) {
		fmt.Printf("Narration for %q is already cached. Use --force to regenerate.\n", contentID)
		return nil
	}

	clientCfg := generation.DefaultClientConfig(cfg.ProviderURL, cfg.APIKey)
	if cfg.FetchRate > 0 {
		clientCfg.FetchRate = rate.Limit(cfg.FetchRate)
	}
	if cfg.FetchBurst > 0 {
		clientCfg.FetchBurst = cfg.FetchBurst
	}
	client := generation.NewClient(clientCfg, s)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	round, err := client.Generate(ctx, generation.Request{
		ContentID: contentID,
		Provider:  cfg.Provider,
		VoiceID:   cfg.VoiceID,
		Language:  cfg.Language,
	})
	if err != nil {
		var quotaErr *generation.QuotaError
		if errors.As(err, &quotaErr) {
			if notice := quota.Notify(&quotaErr.Usage, quota.KindNarration, true); notice != nil {
				fmt.Printf("%s\n%s\nResets at %s.\n",
					notice.Title, notice.Message, notice.CountdownExpiresAt.Local().Format("15:04"))
				return nil
			}
		}
		if errors.Is(err, generation.ErrGenerationCancelled) {
			fmt.Println("Generation cancelled.")
			return nil
		}
		return err
	}

	fmt.Printf("Generated %d of %d segments (%s of audio).\n",
		round.Fetched, round.Requested, formatClock(round.TotalDurationSeconds))
	if notice := quota.Notify(round.Usage, quota.KindNarration, false); notice != nil {
		fmt.Println(notice.Message)
	}
	return nil
}
