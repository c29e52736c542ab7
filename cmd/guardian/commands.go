package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"guardian/ai"
	"guardian/internal/api"
	"guardian/internal/config"
	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/internal/service"

	"github.com/spf13/cobra"
)

// failure форма JSON на stdout при ошибке команды
type failure int

const (
	failNone     failure = iota
	failList             // []
	failEnvelope         // {"success":false,"error":{...}}
)

type failEnvelopeBody struct {
	Success bool      `json:"success"`
	Error   perr.Wire `json:"error"`
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guardian",
		Short: "Find and redact personal data in PDF documents and audio recordings",
		Long: `guardian asks a locally running language model for personal data in
PDF pages and audio transcripts, then applies the redactions a reviewer
accepted. Results are printed to stdout as JSON; diagnostics go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(),
		newProcessPageCmd(),
		newProcessAudioCmd(),
		newExportPDFCmd(),
		newApplyRedactionsCmd(),
		newModelsCmd(),
		newServeCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cfg.Log.Writer == nil {
		cfg.Log.Writer = cmd.ErrOrStderr()
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

// fail печатает ошибку в stderr и структурированный результат в stdout
func fail(cmd *cobra.Command, kind failure, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err)
	switch kind {
	case failList:
		writeJSON(cmd.OutOrStdout(), []any{})
	case failEnvelope:
		writeJSON(cmd.OutOrStdout(), failEnvelopeBody{Success: false, Error: perr.WireFrom(err)})
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// runOneShot общий каркас команд: конфиг, зависимости, сигнал, остановка сервиса.
// Сервис инференса поднимает сам пайплайн перед первым запросом к модели.
func runOneShot(cmd *cobra.Command, kind failure, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fail(cmd, kind, err)
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return fail(cmd, kind, err)
	}
	defer a.close()

	out, err := fn(ctx, a)
	if err != nil {
		return fail(cmd, kind, err)
	}
	if out == nil {
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start the inference service and make sure the model is installed",
		Long: `Start the local inference service if it is not running and pull the
configured model when missing. Every status change is printed as one JSON
line: {"status":"initializing|downloading_model|ready|error","message":"..."}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts, _ := cmd.Flags().GetBool("artifacts")
			out := cmd.OutOrStdout()
			return runOneShot(cmd, failNone, func(ctx context.Context, a *app) (any, error) {
				err := a.pipeline.Initialize(ctx, artifacts, func(ev service.StatusEvent) {
					writeJSON(out, ev)
				})
				return nil, err
			})
		},
	}
	cmd.Flags().Bool("artifacts", false, "Also download the face detector and transcriber models")
	return cmd
}

func newProcessPageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process-page <pdf> <page>",
		Short: "Suggest redactions for one PDF page (page numbers start at 1)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[1])
			if err != nil || page < 1 {
				return fail(cmd, failList, perr.InvalidArgf("page must be a positive integer, got %q", args[1]))
			}
			name, _ := cmd.Flags().GetString("profile")
			profile, err := ai.ParseProfile(name)
			if err != nil {
				return fail(cmd, failList, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "invalid profile"))
			}
			return runOneShot(cmd, failList, func(ctx context.Context, a *app) (any, error) {
				return a.pipeline.ProcessPage(ctx, args[0], page, profile)
			})
		},
	}
	cmd.Flags().String("profile", string(ai.ProfileQuick), "Analysis profile: quick or deep (deep also looks for faces)")
	return cmd
}

func newProcessAudioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-audio <audio>",
		Short: "Transcribe a recording and suggest intervals containing personal data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, failEnvelope, func(ctx context.Context, a *app) (any, error) {
				return a.pipeline.ProcessAudio(ctx, args[0])
			})
		},
	}
}

func newExportPDFCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-pdf <pdf> <directives.json> <output.pdf>",
		Short: "Apply accepted redactions to a PDF and save the result",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, failEnvelope, func(ctx context.Context, a *app) (any, error) {
				return a.pipeline.ExportPDF(ctx, args[0], args[1], args[2])
			})
		},
	}
}

func newApplyRedactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-redactions <audio> <directives.json> <output>",
		Short: "Silence, beep or anonymize the given intervals of a recording",
		Long: `Apply audio directives ({"start_time","end_time","action"} with action
silence, beep or anonymize) to a recording. The output format follows the
output file extension (.mp3 or .wav).`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, failEnvelope, func(ctx context.Context, a *app) (any, error) {
				return a.pipeline.RedactAudio(ctx, args[0], args[1], args[2])
			})
		},
	}
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List installed inference models and local model artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, failEnvelope, func(ctx context.Context, a *app) (any, error) {
				return a.pipeline.ListModels(ctx), nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "pull <model-id>",
		Short: "Download a local model artifact (face detector or transcriber)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, failEnvelope, func(ctx context.Context, a *app) (any, error) {
				path, err := a.models.Ensure(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "model_id": args[0], "path": path}, nil
			})
		},
	})
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, progress WebSocket and control stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return fail(cmd, failNone, err)
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cfg, true)
			if err != nil {
				return fail(cmd, failNone, err)
			}
			defer a.close()

			srv := api.NewServer(api.Options{
				Addr:           cfg.Server.Addr,
				ControlAddr:    cfg.Server.ControlAddr,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				UploadDir:      a.uploadDir(),
				Gatherer:       a.registry,
			}, a.pipeline, a.models)

			if err := srv.Run(ctx); err != nil {
				return fail(cmd, failNone, err)
			}
			logger.Named("cli").Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address override (host:port)")
	return cmd
}
