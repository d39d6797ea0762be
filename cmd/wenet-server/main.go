package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wenet-go/wenet-go/pkg/config"
	"github.com/wenet-go/wenet-go/pkg/contextgraph"
	"github.com/wenet-go/wenet-go/pkg/frontend/fbank"
	"github.com/wenet-go/wenet-go/pkg/metrics"
	"github.com/wenet-go/wenet-go/pkg/model"
	"github.com/wenet-go/wenet-go/pkg/model/onnx"
	"github.com/wenet-go/wenet-go/pkg/rescorer"
	"github.com/wenet-go/wenet-go/pkg/session"
	"github.com/wenet-go/wenet-go/pkg/version"
	"github.com/wenet-go/wenet-go/pkg/wenetlog"
)

var rootCmd = &cobra.Command{
	Use:          "wenet-server",
	Short:        "WeNet streaming ASR decoding server",
	Long:         `wenet-server hosts a websocket streaming speech recognition service backed by an ONNX-exported WeNet acoustic model.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming ASR websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		logger := wenetlog.New(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := run(ctx, *cfg, logger); err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
			os.Exit(2)
		}
		return nil
	},
}

// loadConfig builds a config.Config from an optional --config YAML file
// layered with flag overrides, then validates the result.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	configPath, _ := flags.GetString("config")

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadYAML(configPath)
		if err != nil {
			return nil, fmt.Errorf("wenet-server: %w", err)
		}
		cfg = *loaded
	} else {
		cfg = config.Default()
	}

	overrideInt(flags, "port", &cfg.Port)
	overrideInt(flags, "num_threads", &cfg.NumThreads)
	overrideString(flags, "model_path", &cfg.ModelPath)
	overrideString(flags, "dict_path", &cfg.DictPath)
	overrideString(flags, "context_path", &cfg.ContextPath)
	overrideString(flags, "bpe_model_path", &cfg.BPEModelPath)
	overrideFloat64(flags, "context_score", &cfg.ContextScore)
	overrideInt(flags, "nbest", &cfg.NBest)
	overrideBool(flags, "timestamp", &cfg.Timestamp)
	overrideBool(flags, "continuous_decoding", &cfg.Continuous)
	overrideInt(flags, "chunk_size", &cfg.ChunkSize)

	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("wenet-server: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt(name)
	}
}

func overrideFloat64(flags *pflag.FlagSet, name string, dst *float64) {
	if flags.Changed(name) {
		*dst, _ = flags.GetFloat64(name)
	}
}

func overrideBool(flags *pflag.FlagSet, name string, dst *bool) {
	if flags.Changed(name) {
		*dst, _ = flags.GetBool(name)
	}
}

func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

// run wires every component named in the CLI surface into a session.Server
// and blocks serving it until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	meta := model.Metadata{
		SubsamplingRate:        cfg.SubsamplingRate,
		RightContext:           cfg.RightContext,
		SosID:                  cfg.SosID,
		EosID:                  cfg.EosID,
		IsBidirectionalDecoder: cfg.Bidecoder,
		FeatureDim:             cfg.FeatureDim,
		ChunkSize:              cfg.ChunkSize,
	}

	exec, err := onnx.New(onnx.Config{
		ModelDir:   cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		Metadata:   meta,
	})
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn("model executor close failed", slog.String("error", err.Error()))
		}
	}()

	symbols, err := session.LoadSymbolTable(cfg.DictPath)
	if err != nil {
		return fmt.Errorf("load dict: %w", err)
	}
	if cfg.BPEModelPath != "" {
		if err := symbols.LoadBPETokenizer(cfg.BPEModelPath); err != nil {
			return fmt.Errorf("load bpe tokenizer: %w", err)
		}
	}

	var graph *contextgraph.Graph
	if cfg.ContextPath != "" {
		graph, err = session.LoadContextPhrases(cfg.ContextPath, symbols, cfg.ContextScore)
		if err != nil {
			return fmt.Errorf("load context phrases: %w", err)
		}
	}

	var rescore session.Rescorer
	if cfg.Bidecoder {
		rescore = rescorer.New(rescorer.Config{CTCWeight: 1 - cfg.ReverseWeight}, exec)
	}

	m := metrics.New("wenet_server")

	extractor := fbank.New(fbank.Config{
		SampleRate: 16000,
		NumFilters: cfg.FeatureDim,
		FrameLenMs: 25,
		FrameHopMs: 10,
	})

	srv := session.NewServer(session.ServerConfig{
		NBest:              cfg.NBest,
		Timestamp:          cfg.Timestamp,
		ContinuousDecoding: cfg.Continuous,
		ChunkSize:          cfg.ChunkSize,
		ReverseWeight:      cfg.ReverseWeight,
	}, exec, extractor, symbols, graph, rescore, m, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/debug/vars", expvar.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("wenet-server listening", slog.Int("port", cfg.Port), slog.String("model_path", cfg.ModelPath))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func init() {
	serveCmd.Flags().String("config", "", "path to a YAML config file providing defaults")
	serveCmd.Flags().Int("port", 0, "websocket listen port")
	serveCmd.Flags().Int("num_threads", 0, "ONNX Runtime intra-op thread count")
	serveCmd.Flags().String("model_path", "", "directory holding encoder.onnx, ctc.onnx, decoder.onnx")
	serveCmd.Flags().String("dict_path", "", "path to the unit dictionary (units.txt)")
	serveCmd.Flags().String("context_path", "", "path to a context phrase list file")
	serveCmd.Flags().String("bpe_model_path", "", "path to a HuggingFace tokenizer.json for subword-splitting out-of-vocabulary context phrase words")
	serveCmd.Flags().Float64("context_score", 0, "score bonus applied per matched context phrase token")
	serveCmd.Flags().Int("nbest", 0, "number of hypotheses to return per result")
	serveCmd.Flags().Bool("timestamp", false, "include word-level timestamps in results")
	serveCmd.Flags().Bool("continuous_decoding", false, "keep decoding across utterance endpoints on one connection")
	serveCmd.Flags().Int("chunk_size", 0, "encoder-output frames consumed per streaming step")

	rootCmd.AddCommand(versionCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
