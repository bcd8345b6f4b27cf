package jobs

import (
	"context"
	"encoding/json"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/pkg/logger"
)

// ---------------------------------------------------------------------------
// Job Args
// ---------------------------------------------------------------------------

// NodeCommandArgs carries an encoded node command for deferred delivery.
// JobKey is the logical slot ("{node_ref}.publish" or "{node_ref}.expire")
// the watchers use to replace or cancel the delivery.
type NodeCommandArgs struct {
	JobKey  string          `json:"job_key"`
	Command json.RawMessage `json:"command"`
}

// Kind returns the job kind identifier for deferred node commands.
func (NodeCommandArgs) Kind() string { return "node_command" }

// InsertOpts returns default insert options for deferred node commands.
func (NodeCommandArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       "node_commands",
		MaxAttempts: 3,
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// CommandExecutor runs a command through the engine. Satisfied by
// usecase.CommandBus.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd domain.Command) error
}

// NodeCommandWorker decodes a deferred command and hands it to the
// command bus. Delivery is at-least-once; the engine's idempotent
// guards make a duplicate run a no-op, so retries are safe.
type NodeCommandWorker struct {
	river.WorkerDefaults[NodeCommandArgs]
	bus CommandExecutor
}

// NewNodeCommandWorker creates a worker bound to the given command bus.
func NewNodeCommandWorker(bus CommandExecutor) *NodeCommandWorker {
	return &NodeCommandWorker{bus: bus}
}

// Work executes the deferred command.
func (w *NodeCommandWorker) Work(ctx context.Context, job *river.Job[NodeCommandArgs]) error {
	cmd, err := domain.DecodeCommand(job.Args.Command)
	if err != nil {
		// A payload we cannot decode will never decode; retrying burns
		// attempts for nothing.
		return river.JobCancel(err)
	}

	logger.Info("delivering deferred node command",
		zap.String("job_key", job.Args.JobKey),
		zap.String("command_type", string(cmd.CommandType())),
		zap.String("node_ref", cmd.NodeRef().String()),
		zap.Int("attempt", job.Attempt),
	)

	if err := w.bus.Execute(ctx, cmd); err != nil {
		logger.Error("deferred node command failed",
			zap.String("job_key", job.Args.JobKey),
			zap.String("command_type", string(cmd.CommandType())),
			zap.Error(err),
		)
		return err
	}
	return nil
}
