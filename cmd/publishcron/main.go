// Command publishcron drives the publish pipeline from a scheduler: it calls
// the deployed publish endpoint up to a per-run budget and exits non-zero
// only on hard failures, keeping automation status green for expected
// per-item issues.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-news-backend/internal/cron"
	"github.com/tbourn/go-news-backend/internal/sysutil"
)

var (
	endpoint    string
	secret      string
	budget      int
	pause       time.Duration
	callTimeout time.Duration
	pretty      bool
)

var rootCmd = &cobra.Command{
	Use:   "publishcron",
	Short: "Drive the publish pipeline up to a per-run call budget",
	Long: `publishcron repeatedly calls the claim-and-process endpoint of the news
API. It stops early when the queue is drained or the publish cooldown is
active, and exits non-zero only when the pipeline reports a hard failure
(misconfiguration, expired credentials).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pretty {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		}
		if secret == "" {
			secret = os.Getenv("CRON_SECRET")
		}
		if endpoint == "" {
			endpoint = os.Getenv("PUBLISH_ENDPOINT")
		}
		if endpoint == "" || secret == "" {
			log.Fatal().Msg("endpoint and secret are required (flags or PUBLISH_ENDPOINT / CRON_SECRET)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := &cron.Runner{
			Endpoint: endpoint,
			Secret:   secret,
			Budget:   budget,
			Pause:    pause,
			Client:   &http.Client{Timeout: callTimeout},
			Log:      log.Logger,
		}

		sum, err := runner.Run(ctx)
		log.Info().
			Int("calls", sum.Calls).
			Int("published", sum.Published).
			Int("blocked", sum.Blocked).
			Int("soft_failures", sum.SoftFailures).
			Int("hard_failures", sum.HardFailures).
			Str("stop_reason", sum.StopReason).
			Msg("run finished")
		return err
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "", "Full URL of the publish endpoint")
	rootCmd.Flags().StringVar(&secret, "secret", "", "Operator secret (or CRON_SECRET env var)")
	rootCmd.Flags().IntVar(&budget, "budget", 3, "Maximum publish calls per run")
	rootCmd.Flags().DurationVar(&pause, "pause", 5*time.Second, "Pause between calls")
	rootCmd.Flags().DurationVar(&callTimeout, "call-timeout", 2*time.Minute, "Timeout per publish call")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "Human-readable log output")
}

func main() {
	_ = godotenv.Load()

	sysutil.SetLogLevel(os.Getenv("LOG_LEVEL"))
	if sysutil.IsTruthy(os.Getenv("LOG_PRETTY")) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
