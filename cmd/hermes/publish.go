package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hermes/internal/backend"
	"hermes/internal/logging"
	"hermes/internal/session"
	"hermes/internal/tunnel"
	"hermes/internal/utils/id"
)

// consoleSpeaker voices updates by printing them; the console never
// interrupts.
type consoleSpeaker struct{}

func (consoleSpeaker) Say(_ context.Context, text string) (bool, error) {
	fmt.Println(green("← " + text))
	return false, nil
}

// idleStates treats the console as always ready to receive updates.
type idleStates struct{}

func (idleStates) ConversationState() session.ConversationState { return session.StateIdle }

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <task>",
		Short: "Delegate one task to an executor and print its updates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			configureLogging(cfg)

			tierName := viper.GetString("publish_tier")
			if tierName == "" {
				tierName = cfg.Tier
			}
			sessionID := viper.GetString("publish_session")
			if sessionID == "" {
				sessionID = id.NewSessionID()
			}

			opts := session.Options{
				SessionID: sessionID,
				Tier:      tierName,
				States:    idleStates{},
				Speaker:   consoleSpeaker{},
				Logger:    logging.NewComponentLogger("session"),
			}

			tiers := session.NewTierRegistry()
			tier, err := tiers.Create(tierName, opts)
			if err != nil {
				return err
			}
			opts.Address = viper.GetString("publish_url")
			if opts.Address == "" {
				if tier.Backend == backend.FamilyRelay {
					room := viper.GetString("publish_room")
					if room == "" {
						room = sessionID
					}
					opts.Address = tunnel.RoomURL(cfg.RelayHost, room)
				} else {
					opts.Address = cfg.ExecutorURL
				}
			}

			manager, err := session.NewManager(session.ManagerConfig{
				AgentID: cfg.AgentID,
				Role:    cfg.Role,
				Target:  cfg.Target,
				Timeout: cfg.Timeout,
				Tiers:   tiers,
				Logger:  logging.NewComponentLogger("manager"),
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Println(statusText("connecting to " + opts.Address))
			sess, err := manager.GetOrCreate(ctx, opts)
			if err != nil {
				return err
			}

			content := strings.Join(args, " ")
			task, err := sess.Delegate(content)
			if err != nil {
				return err
			}
			fmt.Println(gray("delegated " + task.ID + " on session " + sessionID))

			wait := viper.GetDuration("publish_wait")
			return awaitResult(ctx, sess, wait)
		},
	}

	cmd.Flags().String("tier", "", "Conversational tier (genin|chunin|jonin)")
	cmd.Flags().String("session", "", "Session ID (generated when empty)")
	cmd.Flags().String("url", "", "Executor or relay URL override")
	cmd.Flags().String("room", "", "Relay room name (defaults to the session ID)")
	cmd.Flags().Duration("wait", 5*time.Minute, "How long to wait for the result")
	_ = viper.BindPFlag("publish_tier", cmd.Flags().Lookup("tier"))
	_ = viper.BindPFlag("publish_session", cmd.Flags().Lookup("session"))
	_ = viper.BindPFlag("publish_url", cmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("publish_room", cmd.Flags().Lookup("room"))
	_ = viper.BindPFlag("publish_wait", cmd.Flags().Lookup("wait"))
	return cmd
}

func awaitResult(ctx context.Context, sess *session.Session, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("timed out after %s waiting for the task result", wait)
		case <-ticker.C:
			if sess.PendingUpdates() > 0 {
				continue
			}
			switch sess.Phase() {
			case session.PhaseCompleted:
				fmt.Println(bold("task finished"))
				return nil
			case session.PhaseBlocked:
				fmt.Println(yellow("the executor is waiting for your input"))
				return nil
			}
		}
	}
}
