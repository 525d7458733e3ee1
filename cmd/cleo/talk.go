package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/cleo/internal/app"
	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/voice"
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Run a realtime voice session",
	Long: `Talk opens a realtime voice session through the configured transport and
falls back to the secondary transport if the primary fails.

Audio comes from the default input device (portaudio builds) or from a WAV
file given with --input. Replies play on the default output device or are
written to --output. With --push-to-talk, press Enter to end each turn and
type "m" then Enter to toggle mute.`,
	Args: cobra.NoArgs,
	RunE: runTalk,
}

type talkFlags struct {
	conversation string
	input        string
	output       string
	duration     time.Duration
	pushToTalk   bool
	stats        bool
}

var talkOpts talkFlags

func init() {
	f := talkCmd.Flags()
	f.StringVar(&talkOpts.conversation, "conversation", "", "conversation id for transcripts and context")
	f.StringVar(&talkOpts.input, "input", "", "PCM16 WAV file to use as the microphone")
	f.StringVar(&talkOpts.output, "output", "", "write the spoken reply to this WAV file")
	f.DurationVar(&talkOpts.duration, "duration", 0, "end the session after this long (0 waits for a signal)")
	f.BoolVar(&talkOpts.pushToTalk, "push-to-talk", false, "commit turns manually instead of server VAD")
	f.BoolVar(&talkOpts.stats, "stats", false, "print handshake stage timings on exit")
	rootCmd.AddCommand(talkCmd)
}

func runTalk(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	rate := cfg.Client.SampleRate

	var mic audio.Microphone
	if talkOpts.input != "" {
		mic = &audio.FileMicrophone{Path: talkOpts.input}
	} else if mic, err = defaultMicrophone(); err != nil {
		return err
	}

	var speaker audio.Speaker
	if talkOpts.output != "" {
		speaker = &audio.WAVFileSpeaker{Path: talkOpts.output, SampleRate: rate}
	} else if speaker, err = defaultSpeaker(rate); err != nil {
		logger.Warn("no output device, replies are discarded", "error", err)
		speaker = audio.DiscardSpeaker{}
	}
	defer func() {
		if err := speaker.Close(); err != nil {
			logger.Warn("close speaker failed", "error", err)
		}
	}()

	vc, err := app.BuildVoiceClient(cfg.Client, app.ClientOptions{
		Microphone: mic,
		Speaker:    speaker,
		PushToTalk: talkOpts.pushToTalk,
		Metrics:    observability.NewClientMetrics(cfg.MetricsNamespace, prometheus.NewRegistry()),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	unsubscribe := vc.Subscribe(func(c voice.StatusChange) {
		if c.Err != nil {
			logger.Warn("voice status", "from", c.From, "to", c.To, "error", c.Err)
			return
		}
		logger.Info("voice status", "from", c.From, "to", c.To)
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if talkOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, talkOpts.duration)
		defer cancel()
	}

	if err := vc.StartSession(ctx, talkOpts.conversation); err != nil {
		// Reap whatever the failed handshake acquired and report it.
		printSummary(cmd, endSession(vc), err)
		return fmt.Errorf("start session: %w", err)
	}
	if talkOpts.pushToTalk {
		go readTurnCommands(ctx, vc, logger)
	}

	<-ctx.Done()
	sessionErr := vc.Err()
	printSummary(cmd, endSession(vc), sessionErr)
	if talkOpts.stats {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		enc.SetIndent("", "  ")
		_ = enc.Encode(vc.Stages.Snapshot())
	}
	return nil
}

func endSession(r voice.Runner) *voice.VoiceSession {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.EndSession(ctx)
}

// readTurnCommands maps stdin lines to push-to-talk actions.
func readTurnCommands(ctx context.Context, r voice.Runner, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "m", "mute":
			logger.Info("mute toggled", "muted", r.ToggleMute())
		default:
			if err := r.CommitTurn(ctx); err != nil {
				logger.Warn("commit turn failed", "error", err)
			}
		}
	}
}

func printSummary(cmd *cobra.Command, s *voice.VoiceSession, err error) {
	out := cmd.OutOrStdout()
	if s == nil {
		if err != nil {
			fmt.Fprintf(out, "session failed before registration: %v\n", err)
		}
		return
	}
	fmt.Fprintf(out, "session %s (%s) lasted %.1fs\n", s.SessionID, s.Provider, s.DurationSeconds())
	fmt.Fprintf(out, "tokens: audio in %d, audio out %d, text in %d, text out %d\n",
		s.Usage.AudioInputTokens, s.Usage.AudioOutputTokens, s.Usage.TextInputTokens, s.Usage.TextOutputTokens)
	if s.EstimatedCost != nil {
		fmt.Fprintf(out, "estimated cost: $%.4f\n", *s.EstimatedCost)
	}
	if err != nil {
		fmt.Fprintf(out, "ended with error: %v\n", err)
	}
}
