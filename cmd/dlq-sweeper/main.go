// Package main is the entrypoint for the dead letter sweeper Lambda.
//
// The sweeper is a maintenance multiplexer: EventBridge rules send JSON
// payloads naming the TaskType, and the handler routes execution to the
// dead letter queue's maintenance operations. Two tasks exist:
//
//   - process_retries: execute auto-recovery retries whose delay has elapsed.
//   - sweep: archive resolved records past retention to a zstd JSONL file
//     and delete them.
//
// An empty task runs both, which is what the default hourly rule sends.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaypoint/internal/alerts"
	"relaypoint/internal/config"
	"relaypoint/internal/dlq"
	"relaypoint/internal/queue"
	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

// TaskType names a sweeper maintenance task.
type TaskType string

const (
	TaskProcessRetries TaskType = "process_retries"
	TaskSweep          TaskType = "sweep"
)

// SweeperPayload is the EventBridge input for the sweeper Lambda.
type SweeperPayload struct {
	Task TaskType `json:"task,omitempty"`
}

// RetryProcessor executes due auto-recovery retries.
type RetryProcessor interface {
	ProcessDueRetries(ctx context.Context) (int, error)
}

// ArchiveSweeper archives and deletes resolved records past retention. A nil
// writer deletes without archiving.
type ArchiveSweeper interface {
	Sweep(ctx context.Context, w io.Writer) (int, error)
}

// Handler holds the dependencies for the sweeper Lambda handler function.
type Handler struct {
	Retries RetryProcessor
	Sweeper ArchiveSweeper

	// ArchiveDir is where sweep archives land. Empty disables archiving and
	// the sweep deletes without writing a file.
	ArchiveDir string

	Clock  types.Clock
	Logger *slog.Logger
}

// Handle processes one SweeperPayload, routing to the named task. An empty
// task runs retries first, then the sweep, so a freshly resolved retry is
// never archived in the same invocation it resolves.
func (h *Handler) Handle(ctx context.Context, payload SweeperPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	logger.InfoContext(ctx, "dlq sweeper invoked", "task", string(payload.Task))

	switch payload.Task {
	case TaskProcessRetries:
		n, err := h.processRetries(ctx, logger)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("task process_retries complete: %d records retried", n), nil

	case TaskSweep:
		n, err := h.sweep(ctx, logger, clock)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("task sweep complete: %d records archived", n), nil

	case "":
		retried, err := h.processRetries(ctx, logger)
		if err != nil {
			return "", err
		}
		swept, err := h.sweep(ctx, logger, clock)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("sweeper complete: %d records retried, %d records archived", retried, swept), nil

	default:
		return "", fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func (h *Handler) processRetries(ctx context.Context, logger *slog.Logger) (int, error) {
	n, err := h.Retries.ProcessDueRetries(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "processing due retries failed",
			"records_before_error", n,
			"error", err,
		)
		return n, fmt.Errorf("processing due retries: %w", err)
	}
	logger.InfoContext(ctx, "due retries processed", "records", n)
	return n, nil
}

func (h *Handler) sweep(ctx context.Context, logger *slog.Logger, clock types.Clock) (int, error) {
	if h.ArchiveDir == "" {
		n, err := h.Sweeper.Sweep(ctx, nil)
		if err != nil {
			return n, fmt.Errorf("sweeping dead letters: %w", err)
		}
		logger.InfoContext(ctx, "resolved records swept without archive", "records", n)
		return n, nil
	}

	name := fmt.Sprintf("dead-letters-%s.jsonl.zst", clock.Now().Format("2006-01-02T15-04-05"))
	path := filepath.Join(h.ArchiveDir, name)
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating archive file %s: %w", path, err)
	}

	n, sweepErr := h.Sweeper.Sweep(ctx, f)
	closeErr := f.Close()
	if sweepErr != nil {
		return n, fmt.Errorf("sweeping dead letters: %w", sweepErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("closing archive file %s: %w", path, closeErr)
	}

	if n == 0 {
		// Nothing archived; drop the empty file.
		_ = os.Remove(path)
	}
	logger.InfoContext(ctx, "resolved records swept", "records", n, "archive", path)
	return n, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("dlq sweeper Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	appLogger := types.NewLogger(logger)
	sqsClient := sqs.NewFromConfig(awsCfg)
	deadLetters := dlq.New(dlq.Options{
		Store:      store.NewDeadLetterRepository(pool),
		Outcomes:   store.NewOutcomeRepository(pool),
		Resender:   queue.NewResendPublisher(sqsClient, cfg.AWS.DeliveryQueue, appLogger, nil),
		Alerts:     alerts.NewSQSAlertSink(sqsClient, cfg.AWS.AlertQueue, appLogger, nil),
		Logger:     appLogger.With("component", "dlq"),
		Retention:  cfg.DLQ.Retention,
		BatchDelay: cfg.DLQ.BatchDelay,
		AutoRecovery: map[types.FailureReason]time.Duration{
			types.FailureRateLimitExceeded:  cfg.DLQ.AutoRetryRateLimit,
			types.FailureServiceUnavailable: cfg.DLQ.AutoRetryUnavailable,
			types.FailureNetworkTimeout:     cfg.DLQ.AutoRetryTimeout,
		},
	})

	handler := &Handler{
		Retries:    deadLetters,
		Sweeper:    deadLetters,
		ArchiveDir: os.Getenv("DLQ_ARCHIVE_DIR"),
		Logger:     logger,
	}

	logger.Info("dlq sweeper Lambda initialized")
	lambda.Start(handler.Handle)
}
