package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/itsmartinwho/foresight-scribe/internal/version"
	"github.com/itsmartinwho/foresight-scribe/pkg/config"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
	"github.com/itsmartinwho/foresight-scribe/pkg/observers"
	"github.com/itsmartinwho/foresight-scribe/pkg/persist"
	"github.com/itsmartinwho/foresight-scribe/pkg/redact"
	"github.com/itsmartinwho/foresight-scribe/pkg/runner"
	"github.com/itsmartinwho/foresight-scribe/pkg/scribe"
	"github.com/itsmartinwho/foresight-scribe/pkg/session"
)

var (
	encounterID string
	showPreview bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and transcribe an encounter",
	RunE:  runSession,
}

func init() {
	runCmd.Flags().StringVarP(&encounterID, "encounter", "e", "", "encounter id to attach the transcript to (required)")
	runCmd.Flags().BoolVar(&showPreview, "preview", true, "print interim transcript previews")
	runCmd.MarkFlagRequired("encounter")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	redact.SetEnabled(cfg.Redact.Enabled)

	observer := buildObserver(cfg, log)
	defer func() {
		if a, ok := observer.(*metrics.AsyncObserver); ok {
			a.Close()
		}
	}()

	var publisher *persist.KafkaPublisher
	if cfg.Kafka.Enabled {
		publisher = persist.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}

	engine := scribe.NewEngine(cfg, scribe.EngineOptions{
		Observer:  observer,
		Publisher: publisher,
		Logger:    log,
	})

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lr := runner.NewLifecycleRunner(engineDrainer{engine}, runner.Hooks{
		OnStart: func() {
			_, err := engine.StartSession(ctx, encounterID, sessionCallbacks(log, stop))
			if err != nil {
				log.Error("could not start session", "encounter_id", encounterID, "error", err)
				stop()
			}
		},
	}, 15*time.Second, version.Version, log)

	return lr.Run(ctx)
}

func sessionCallbacks(log *slog.Logger, stop func()) session.Callbacks {
	return session.Callbacks{
		OnTranscriptChanged: func(text string) {
			fmt.Println("---")
			fmt.Println(text)
		},
		OnPreview: func(text string) {
			if showPreview {
				fmt.Printf("\r%s", lastLine(text))
			}
		},
		OnStateChanged: func(s session.State) {
			log.Info("session state", "state", string(s))
			if s == session.StateStopped || s == session.StateError {
				stop()
			}
		},
	}
}

func lastLine(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] == '\n' {
			return text[i+1:]
		}
	}
	return text
}

func buildObserver(cfg *config.Config, log *slog.Logger) metrics.Observer {
	list := []metrics.Observer{
		metrics.NewSamplingObserver(observers.NewLoggerObserver(log), 40,
			metrics.EventAudioFrameSent, metrics.EventInterimReceived),
		observers.NewLatencyObserver(log),
	}
	if cfg.Metrics.Enabled {
		list = append(list, metrics.NewPrometheusObserver())
	}
	if cfg.Metrics.JSONLPath != "" {
		f, err := os.OpenFile(cfg.Metrics.JSONLPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Warn("could not open metrics jsonl file", "path", cfg.Metrics.JSONLPath, "error", err)
		} else {
			list = append(list, metrics.NewJSONLObserver(f))
		}
	}
	multi := observers.NewMultiObserver(list...)
	return metrics.NewAsyncObserver(multi, 1024)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv.ListenAndServe()
}

type engineDrainer struct {
	engine *scribe.Engine
}

func (d engineDrainer) Drain(ctx context.Context) error {
	return d.engine.Close(ctx)
}
