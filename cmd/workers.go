package cmd

import (
	"errors"

	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	RootCmd.AddCommand(WorkerCmd)
	WorkerCmd.AddCommand(AllocatorWorkerCmd)
	WorkerCmd.AddCommand(PromoterWorkerCmd)
	WorkerCmd.AddCommand(OutboxWorkerCmd)
	WorkerCmd.AddCommand(CloserWorkerCmd)

	allocatorBuilder := NewFlagBuilder(AllocatorWorkerCmd)
	allocatorBuilder.String("session-id", "",
		"consume a single session's intent stream").
		Bind("session-id").Env("SESSION_ID")
	allocatorBuilder.Bool("all-sessions", false,
		"consume every scheduled session, discovering new ones as they appear").
		Bind("all-sessions").Env("ALL_SESSIONS")
	registerTuningFlags(allocatorBuilder)

	promoterBuilder := NewFlagBuilder(PromoterWorkerCmd)
	promoterBuilder.String("session-id", "",
		"consume a single session's promotion stream").
		Bind("session-id").Env("SESSION_ID")
	registerTuningFlags(promoterBuilder)

	registerTuningFlags(NewFlagBuilder(OutboxWorkerCmd))
	registerTuningFlags(NewFlagBuilder(CloserWorkerCmd))
}

// WorkerCmd is the parent for the standalone background workers
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run a background worker",
}

// AllocatorWorkerCmd consumes registration intents off the per-session streams
var AllocatorWorkerCmd = &cobra.Command{
	Use:   "allocator",
	Short: "consume registration intents and allocate seats",
	Run:   Perform("allocator worker", RunAllocatorWorker),
}

// PromoterWorkerCmd consumes promotion triggers for a single session
var PromoterWorkerCmd = &cobra.Command{
	Use:   "promoter",
	Short: "consume promotion triggers and fill freed seats",
	Run:   Perform("promoter worker", RunPromotionWorker),
}

// OutboxWorkerCmd publishes committed outbox rows to redis
var OutboxWorkerCmd = &cobra.Command{
	Use:   "outbox",
	Short: "publish committed outbox events to redis",
	Run:   Perform("outbox worker", RunOutboxWorker),
}

// CloserWorkerCmd closes sessions left scheduled past their grace period
var CloserWorkerCmd = &cobra.Command{
	Use:   "closer",
	Short: "close sessions past their start grace period",
	Run:   Perform("closer worker", RunCloserWorker),
}

// RunAllocatorWorker is the runner for the allocator worker command
func RunAllocatorWorker(command *cobra.Command, args []string) error {
	ctx := command.Context()
	svcs, err := initServices(ctx, false)
	if err != nil {
		return err
	}
	consumerID := viper.GetString("consumer-id")
	if viper.GetBool("all-sessions") {
		return svcs.registrations.RunSessionWorkers(ctx, consumerID)
	}
	sessionID, err := uuid.FromString(viper.GetString("session-id"))
	if err != nil {
		return errors.New("one of --session-id or --all-sessions is required")
	}
	return svcs.registrations.RunAllocatorWorker(ctx, sessionID, consumerID)
}

// RunPromotionWorker is the runner for the promoter worker command
func RunPromotionWorker(command *cobra.Command, args []string) error {
	ctx := command.Context()
	svcs, err := initServices(ctx, false)
	if err != nil {
		return err
	}
	sessionID, err := uuid.FromString(viper.GetString("session-id"))
	if err != nil {
		return errors.New("--session-id is required")
	}
	return svcs.registrations.RunPromotionWorker(ctx, sessionID, viper.GetString("consumer-id"))
}

// RunOutboxWorker is the runner for the outbox worker command
func RunOutboxWorker(command *cobra.Command, args []string) error {
	ctx := command.Context()
	svcs, err := initServices(ctx, false)
	if err != nil {
		return err
	}
	return svcs.outbox.RunDispatcher(ctx, viper.GetDuration("outbox-interval"), viper.GetInt("outbox-batch"))
}

// RunCloserWorker is the runner for the closer worker command
func RunCloserWorker(command *cobra.Command, args []string) error {
	ctx := command.Context()
	svcs, err := initServices(ctx, false)
	if err != nil {
		return err
	}
	return svcs.sessions.RunAutoCloser(ctx)
}
