package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jomardyan/FlexiFocus/internal/config"
	"github.com/jomardyan/FlexiFocus/internal/dispatch"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

const sendTimeout = 10 * time.Second

func newSendCmd(configPath *string) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "send <type> [payload-json]",
		Short: "Send a command to the timer",
		Long: `Sends one command, e.g.

  flexifocus send startTimer '{"methodKey":"pomodoro"}'
  flexifocus send addTask '{"title":"Write report","estimate":2}'

Commands go to the running daemon. With --local they run in-process against
the database instead; wake-ups are then re-armed on the next daemon start.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			command := dispatch.Command{Type: args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				command.Payload = json.RawMessage(args[1])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()
			if local {
				return sendLocal(ctx, cmd.OutOrStdout(), cfg, command)
			}
			return sendRemote(ctx, cmd.OutOrStdout(), cfg, command)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "run the command in-process instead of through the daemon")
	return cmd
}

func sendLocal(ctx context.Context, out io.Writer, cfg *config.Config, command dispatch.Command) error {
	logger := newLogger(os.Stderr, cfg)
	st, closeStore, err := openStore(cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	timerService := service.NewTimerService(service.TimerServiceDeps{Store: st, Logger: logger})
	result, apiErr := dispatch.New(timerService).Dispatch(service.WithClient(ctx, "cli"), command)
	if apiErr != nil {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return printJSON(out, result)
}

func sendRemote(ctx context.Context, out io.Writer, cfg *config.Config, command dispatch.Command) error {
	token, apiErr := service.NewTokenService(cfg.JWTSecret, time.Minute).Issue("cli")
	if apiErr != nil {
		return fmt.Errorf("issue token: %s", apiErr.Message)
	}

	body, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	url := "http://127.0.0.1:" + cfg.Port + "/api/commands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s (is `flexifocus serve` running? use --local otherwise): %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return printJSON(out, envelope.Result)
}

func printJSON(out io.Writer, v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(out, string(formatted))
	return nil
}
