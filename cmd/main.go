package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/helper"
	"medical-qa-rag/internal/rag"
	"medical-qa-rag/internal/server"
	"medical-qa-rag/internal/tui"
	"medical-qa-rag/internal/watcher"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medqa",
		Short:         "Question answering over medical reference documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			cfg = loaded
			setupLogger(cfg.Log)
			log.Debug().Str("config", configPath).Strs("documents", cfg.RAG.Documents).Msg("Loaded config")
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "Path to the config file")

	root.AddCommand(
		newIngestCmd(),
		newAskCmd(),
		newChatCmd(),
		newServeCmd(),
		newExportCmd(),
		newImportCmd(),
	)
	return root
}

func setupLogger(lc config.LogConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		log.Warn().Str("level", lc.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newIngestCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the vector index, building it when it is missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.builder.LoadOrBuild(ctx, rebuild)
				if err != nil {
					return err
				}
				helper.PrettyPrint(res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index even if it already exists")
	return cmd
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and print the cited passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.builder.LoadOrBuild(ctx, false); err != nil {
					return err
				}
				answer, err := a.rag.Ask(ctx, rag.Request{Question: question})
				if err != nil {
					return err
				}
				printAnswer(cmd.OutOrStdout(), answer.Question, answer)
				return nil
			})
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.builder.LoadOrBuild(ctx, false)
				if err != nil {
					return err
				}

				// The TUI owns the terminal from here on.
				log.Logger = log.Output(io.Discard)
				title := fmt.Sprintf("Medical QA  %s (%d chunks)", res.IndexName, res.Chunks)
				m := tui.New(ctx, a.rag, title, cfg.Prompts.Greeting)
				_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				if errors.Is(err, tea.ErrProgramKilled) {
					return nil
				}
				return err
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.builder.LoadOrBuild(ctx, false); err != nil {
					return err
				}

				if watch {
					w, err := watcher.New(cfg.RAG.Documents, cfg.RAG.WatchDebounce.Duration)
					if err != nil {
						return fmt.Errorf("error starting watcher: %w", err)
					}
					go func() {
						_ = w.Run(ctx, func(ctx context.Context, changed []string) {
							log.Info().Strs("files", changed).Msg("Reference documents changed, rebuilding index")
							if _, err := a.builder.LoadOrBuild(ctx, true); err != nil {
								log.Error().Err(err).Msg("Error rebuilding index")
							}
						})
					}()
				}

				return server.New(cfg, a.rag, a.builder, a.store, a.sessions).Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Rebuild the index when reference documents change")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted snapshot of the chromem index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.chromem == nil {
					return errors.New("export requires rag.store chromem")
				}
				if err := a.chromem.Export(ctx); err != nil {
					return err
				}
				log.Info().Str("file", a.chromem.FilePath()).Msg("Exported index")
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Restore the chromem index from its encrypted snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.chromem == nil {
					return errors.New("import requires rag.store chromem")
				}
				if err := a.chromem.Import(ctx); err != nil {
					return err
				}
				count, err := a.chromem.Count(ctx)
				if err != nil {
					return err
				}
				log.Info().Str("file", a.chromem.FilePath()).Int("chunks", count).Msg("Imported index")
				return nil
			})
		},
	}
}
