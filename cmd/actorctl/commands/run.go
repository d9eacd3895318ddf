package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cafgo/actorcore/actor"
	"github.com/cafgo/actorcore/internal/build"
)

// pingMsg asks a counterActor to report its current count.
type pingMsg struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (pingMsg) MessageType() string { return "actorctl.ping" }

// pongMsg carries a counterActor's reply to a pingMsg.
type pongMsg struct {
	actor.BaseMessage
	Count int
}

// MessageType implements actor.Message.
func (pongMsg) MessageType() string { return "actorctl.pong" }

// toggleMsg flips a counterActor between its counting and paused behaviors.
type toggleMsg struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (toggleMsg) MessageType() string { return "actorctl.toggle" }

// runCmd builds a small actor system from the resolved configuration, spawns
// a demo actor pair, exercises become/unbecome and a correlated request, and
// blocks until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Spawn a demo actor system and exercise its scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		wireLogging(viper.GetString("log-dir"))

		policy := actor.PolicySharing
		if viper.GetString("scheduler.policy") == "stealing" {
			policy = actor.PolicyStealing
		}

		schedCfg := actor.DefaultSchedulerConfig()
		schedCfg.Policy = policy
		if n := viper.GetInt("scheduler.max-threads"); n > 0 {
			schedCfg.MaxThreads = n
		}
		if n := viper.GetInt("scheduler.max-throughput"); n > 0 {
			schedCfg.MaxThroughput = n
		}

		sched := actor.NewScheduler(schedCfg)
		defer sched.Stop()

		system := actor.NewActorSystem()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 10*time.Second,
			)
			defer cancel()

			if err := system.Shutdown(shutdownCtx); err != nil {
				log.Printf(
					"actor system shutdown incomplete: %v", err,
				)
			}
		}()

		var counter *actor.ScheduledActor
		var paused *actor.Behavior

		count := 0
		counting := actor.NewBehavior(
			actor.On(func(ctx context.Context, _ *pingMsg) bool {
				count++
				actor.Reply(ctx, &pongMsg{Count: count})
				return true
			}),
			actor.On(func(ctx context.Context, _ *toggleMsg) bool {
				counter.Become(paused)
				return true
			}),
		)
		paused = actor.NewBehavior(
			actor.On(func(ctx context.Context, _ *toggleMsg) bool {
				counter.Unbecome()
				return true
			}),
		)

		counter = actor.NewScheduledActor(actor.ScheduledActorConfig{
			ID:       "counter",
			Behavior: counting,
			System:   system,
		})
		counter.StartOnScheduler(sched)
		defer counter.Stop()

		client := actor.NewScheduledActor(actor.ScheduledActorConfig{
			ID:       "client",
			Behavior: actor.NewBehavior(),
			System:   system,
		})
		client.StartOnScheduler(sched)
		defer client.Stop()

		for i := 0; i < 3; i++ {
			done := make(chan struct{})
			client.Request(
				context.Background(), counter.Self(), &pingMsg{},
				2*time.Second,
			).Then(
				func(ctx context.Context, msg actor.Message) {
					if pong, ok := msg.(*pongMsg); ok {
						fmt.Printf("counter replied: count=%d\n", pong.Count)
					}
					close(done)
				},
				func(ctx context.Context, err error) {
					fmt.Printf("request failed: %v\n", err)
					close(done)
				},
			)
			<-done
		}

		// Pause the counter (become) and resume it again (unbecome).
		counter.Self().Tell(context.Background(), &toggleMsg{})
		counter.Self().Tell(context.Background(), &toggleMsg{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigCh
			cancel()
		}()

		fmt.Println("actorctl demo running, press Ctrl+C to stop")
		<-ctx.Done()

		return nil
	},
}

// wireLogging wires actor package logging through btclog, optionally fanning
// out to a rotating log file when logDir is non-empty.
func wireLogging(logDir string) {
	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))

	if logDir != "" {
		fileSink, err := build.NewFileRotator(logDir)
		if err != nil {
			log.Printf(
				"failed to init log rotator: %v (continuing "+
					"without file logging)", err,
			)
		} else {
			handlers = append(handlers, btclog.NewDefaultHandler(fileSink))
		}
	}

	combined := build.NewMultiHandler(handlers...)
	actor.UseLogger(btclog.NewSLogger(combined))
}
