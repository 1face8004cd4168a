package main

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluentive/voiceturn/internal/backend"
	"github.com/fluentive/voiceturn/internal/ingress"
	"github.com/fluentive/voiceturn/pkg/ai/stt"
	sttfake "github.com/fluentive/voiceturn/pkg/ai/stt/fake"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
	ttsfake "github.com/fluentive/voiceturn/pkg/ai/tts/fake"
	"github.com/fluentive/voiceturn/pkg/ai/vad"
	"github.com/fluentive/voiceturn/pkg/playback"
	"github.com/fluentive/voiceturn/pkg/plugin"
	"github.com/fluentive/voiceturn/pkg/plugin/openai"
	"github.com/fluentive/voiceturn/pkg/session"
	"github.com/fluentive/voiceturn/pkg/turn"
	"github.com/fluentive/voiceturn/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "voiceturn",
	Short:        "Voiceturn - real-time voice conversation engine",
	Long:         `voiceturn runs full-duplex voice conversations: it detects speech, transcribes it, talks to a conversation backend, and plays the replies with barge-in support.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered speech providers",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("STT: %s\n", strings.Join(plugin.Global().ListSTT(), ", "))
		fmt.Printf("TTS: %s\n", strings.Join(plugin.Global().ListTTS(), ", "))
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run a call session with a WAV file as the microphone",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		logger.Info("starting console session",
			slog.String("service", "voiceturn"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runConsole(ctx, cmd, logger)
	},
}

func init() {
	consoleCmd.Flags().String("mic-file", "", "WAV file replayed as live microphone input (required)")
	consoleCmd.Flags().String("backend-url", "", "conversation service websocket URL ('' = built-in echo backend)")
	consoleCmd.Flags().String("token", "", "conversation service auth token")
	consoleCmd.Flags().String("stt", "fake", "STT provider name")
	consoleCmd.Flags().String("tts", "fake", "TTS provider name")
	consoleCmd.Flags().String("language", "en-US", "conversation language (BCP-47)")
	consoleCmd.Flags().String("scenario", "", "practice scenario id")
	consoleCmd.Flags().String("course", "", "course id")
	consoleCmd.Flags().Bool("allow-interruptions", true, "let the user barge in over assistant speech")
	consoleCmd.Flags().String("turn-model", "", "directory with the end-of-turn ONNX model (optional)")
	consoleCmd.Flags().Int("turn-hold-ms", 800, "dispatch hold when the turn looks unfinished")
	consoleCmd.Flags().Int("reengage-ms", 8000, "silence window before re-engaging the user (0 = off)")
	consoleCmd.Flags().Float32("vad-positive", 0, "override positive speech threshold")
	consoleCmd.Flags().Float32("vad-negative", 0, "override negative speech threshold")
	consoleCmd.Flags().Int("vad-redemption-ms", 0, "override redemption window")
	consoleCmd.Flags().Bool("metrics", false, "serve expvar metrics on :8080")
	consoleCmd.Flags().Duration("max-duration", 2*time.Minute, "end the call after this long")

	rootCmd.AddCommand(versionCmd, providersCmd, consoleCmd)

	registerProviders()
}

// registerProviders fills the global registry. The fake providers are always
// available; OpenAI only when a key is present.
func registerProviders() {
	r := plugin.Global()
	r.RegisterSTT("fake", func() (stt.STT, error) { return sttfake.NewFakeSTT(), nil })
	r.RegisterTTS("fake", func() (tts.TTS, error) { return ttsfake.NewFakeTTS(), nil })
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		openai.Register(r, key)
	}
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch os.Getenv("VOICETURN_LOG_LEVEL") {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if os.Getenv("VOICETURN_LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runConsole(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) error {
	micFile, _ := cmd.Flags().GetString("mic-file")
	if micFile == "" {
		return fmt.Errorf("--mic-file is required")
	}

	if serveMetrics, _ := cmd.Flags().GetBool("metrics"); serveMetrics {
		go func() {
			logger.Info("serving metrics on :8080")
			mux := http.NewServeMux()
			mux.Handle("/metrics", expvar.Handler())
			if err := http.ListenAndServe(":8080", mux); err != nil {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	mic, err := ingress.NewFileSource(micFile)
	if err != nil {
		return err
	}
	mic.Start(ctx)

	sttName, _ := cmd.Flags().GetString("stt")
	sttProvider, err := plugin.Global().CreateSTT(sttName)
	if err != nil {
		return err
	}
	ttsName, _ := cmd.Flags().GetString("tts")
	ttsProvider, err := plugin.Global().CreateTTS(ttsName)
	if err != nil {
		return err
	}

	detector, err := buildDetector(cmd, logger)
	if err != nil {
		return err
	}

	var be session.Backend
	backendURL, _ := cmd.Flags().GetString("backend-url")
	if backendURL != "" {
		token, _ := cmd.Flags().GetString("token")
		client := backend.NewClient(backendURL, token, logger)
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		be = client
	} else {
		logger.Info("no backend URL; using built-in echo backend")
		be = newEchoBackend()
	}

	cfg := session.DefaultConfig()
	cfg.Backend = be
	cfg.Detector = detector
	cfg.STT = sttProvider
	cfg.TTS = ttsProvider
	cfg.Sink = playback.NewRealtimeSink()
	cfg.MicIn = mic.Frames()
	cfg.SampleRate = mic.SampleRate()
	cfg.Language, _ = cmd.Flags().GetString("language")
	cfg.Scenario, _ = cmd.Flags().GetString("scenario")
	cfg.CourseID, _ = cmd.Flags().GetString("course")
	cfg.AllowInterruptions, _ = cmd.Flags().GetBool("allow-interruptions")
	cfg.TurnHoldMs, _ = cmd.Flags().GetInt("turn-hold-ms")
	cfg.ReengagementMs, _ = cmd.Flags().GetInt("reengage-ms")
	cfg.Logger = logger
	cfg.OnInterim = func(text string) {
		fmt.Printf("\r… %s", text)
	}

	if modelDir, _ := cmd.Flags().GetString("turn-model"); modelDir != "" {
		det, err := turn.NewONNXDetector(modelDir)
		if err != nil {
			return fmt.Errorf("load turn detector: %w", err)
		}
		defer det.Close()
		cfg.TurnDetector = det
	}

	s, err := session.New(cfg)
	if err != nil {
		return err
	}

	maxDuration, _ := cmd.Flags().GetDuration("max-duration")
	sessionErr := make(chan error, 1)
	go func() { sessionErr <- s.Start(ctx) }()

	select {
	case err := <-sessionErr:
		printTranscript(s)
		return err
	case <-time.After(maxDuration):
	case <-ctx.Done():
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := s.EndCall(endCtx, session.EndReasonCompleted)
	printTranscript(s)
	if err != nil {
		return err
	}
	fmt.Printf("\nsummary: %s\n", summary.Text)
	if summary.Feedback != "" {
		fmt.Printf("feedback: %s\n", summary.Feedback)
	}
	if lm := s.LastLatency(); lm != nil {
		fmt.Printf("last turn latency: %s (backend %s)\n", lm.Total, lm.BackendRoundTrip)
	}
	<-sessionErr
	return nil
}

func buildDetector(cmd *cobra.Command, logger *slog.Logger) (vad.Detector, error) {
	cfg := vad.DefaultConfig()
	if v, _ := cmd.Flags().GetFloat32("vad-positive"); v > 0 {
		cfg.PositiveSpeechThreshold = v
	}
	if v, _ := cmd.Flags().GetFloat32("vad-negative"); v > 0 {
		cfg.NegativeSpeechThreshold = v
	}
	if v, _ := cmd.Flags().GetInt("vad-redemption-ms"); v > 0 {
		cfg.RedemptionMs = v
	}
	d, err := vad.New(cfg, vad.NewEnergyScorer(), logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func printTranscript(s *session.Session) {
	msgs := s.Messages()
	if len(msgs) == 0 {
		return
	}
	fmt.Println("\n--- transcript ---")
	for _, m := range msgs {
		fmt.Printf("%-9s %s\n", string(m.Role)+":", m.Content)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
