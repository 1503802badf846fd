package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/webmclip/internal/adapter/engine/ffmpeg"
	"github.com/bnema/webmclip/internal/adapter/http/validation"
	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/service"
)

func newConvertCmd() *cobra.Command {
	var (
		quiet  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "convert <input>",
		Short: "Convert one clip and wait for the result",
		Long:  "Convert one clip; the WebM is written next to the input. Ctrl-C cancels the running transcode.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			input, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := validation.CheckInputFile(input); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			engine, err := ffmpeg.NewEngine(engineOptions(cfg))
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close() //nolint:errcheck

			bus := service.NewEventBus()
			ctrl := service.NewController(cfg.Policy, engine, st.history, bus)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = ctrl.Shutdown(ctx)
			}()

			events := bus.Subscribe()
			defer bus.Unsubscribe(events)

			info, err := ctrl.Start(context.Background(), input)
			if err != nil {
				return err
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)

			progress := io.Discard
			if !quiet && !asJSON {
				progress = cmd.ErrOrStderr()
			}
			done := make(chan struct{})
			relayed := make(chan struct{})
			go func() {
				defer close(relayed)
				relay(progress, ctrl, events, interrupts, done)
			}()

			outcome, err := ctrl.Wait(context.Background(), info.ID)
			close(done)
			<-relayed
			if err != nil {
				return err
			}
			fmt.Fprintln(progress)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), outcome)
			}
			return outcomeError(outcome)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

type sessionCanceller interface {
	Cancel() error
	Status() service.Status
}

// relay prints events until done closes. An interrupt cancels the running
// transcode; one that arrives before the engine starts is held and applied
// as soon as the session is running.
func relay(w io.Writer, ctrl sessionCanceller, events <-chan service.Event, interrupts <-chan os.Signal, done <-chan struct{}) {
	pending := false
	cancel := func() {
		_ = ctrl.Cancel()
		switch ctrl.Status().State {
		case domain.SessionStateProbing, domain.SessionStateConfiguring:
			pending = true
		default:
			pending = false
		}
	}

	for {
		select {
		case <-done:
			return
		case <-interrupts:
			fmt.Fprintln(w, "\ncancelling")
			cancel()
		case ev := <-events:
			printEvent(w, ev)
			if pending {
				cancel()
			}
		}
	}
}

func printEvent(w io.Writer, ev service.Event) {
	switch ev.Type {
	case service.EventTypeProgress:
		fmt.Fprintf(w, "\r%5.1f%%", ev.Progress)
	case service.EventTypeState:
		if ev.State != domain.SessionStateIdle && ev.State != domain.SessionStateRunning {
			fmt.Fprintf(w, "\r%s\n", ev.State)
		}
	}
}

func printOutcome(w io.Writer, o *domain.Outcome) {
	switch o.State {
	case domain.SessionStateCompleted:
		fmt.Fprintf(w, "wrote %s (%d kb/s, %s) in %s\n", o.OutputPath, o.BitrateKbps, o.SizeSpec, o.Duration().Round(time.Millisecond))
	case domain.SessionStateCancelled:
		fmt.Fprintf(w, "cancelled %s\n", o.InputPath)
	default:
		fmt.Fprintf(w, "failed %s: %s\n", o.InputPath, o.ErrorMessage)
	}
}

// outcomeError turns a non-completed outcome into the command's exit error.
func outcomeError(o *domain.Outcome) error {
	switch o.State {
	case domain.SessionStateCompleted:
		return nil
	case domain.SessionStateCancelled:
		return fmt.Errorf("session %s cancelled", o.SessionID)
	}
	if o.Err != nil {
		return o.Err
	}
	return fmt.Errorf("session %s failed: %s", o.SessionID, o.ErrorMessage)
}
