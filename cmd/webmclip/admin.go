package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/webmclip/config"
	"github.com/bnema/webmclip/internal/adapter/engine/ffmpeg"
	"github.com/bnema/webmclip/internal/adapter/http/validation"
	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/infrastructure/sysinfo"
	"github.com/bnema/webmclip/internal/service"
)

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <input>...",
		Short: "Add inputs to the batch queue processed by serve",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close() //nolint:errcheck
			if st.queue == nil {
				return errQueueUnavailable
			}

			var failed int
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err == nil && !cfg.Policy.Accepts(path) {
					err = domain.ErrInvalidInputExtension
				}
				if err == nil {
					_, err = validation.CheckInputFile(path)
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", arg, err)
					failed++
					continue
				}
				job, err := st.queue.Enqueue(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued #%d %s\n", job.ID, path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d inputs rejected", failed, len(args))
			}
			return nil
		},
	}
}

func newQueueCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List batch queue jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close() //nolint:errcheck
			if st.queue == nil {
				return errQueueUnavailable
			}
			jobs, err := st.queue.List(limit)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close() //nolint:errcheck
			outcomes, err := st.history.ListOutcomes(limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), outcomes, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	return cmd
}

func printJobs(w io.Writer, jobs []*domain.QueuedJob, now time.Time) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTRIES\tQUEUED\tINPUT\tDETAIL")
	for _, j := range jobs {
		detail := j.OutputPath
		if j.Status == domain.JobStatusFailed {
			detail = j.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", j.ID, j.Status, j.Attempts, humanize.RelTime(j.CreatedAt, now, "ago", "from now"), j.InputPath, detail)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, outcomes []*domain.Outcome, now time.Time) error {
	if len(outcomes) == 0 {
		_, err := fmt.Fprintln(w, "no sessions yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tFINISHED\tTOOK\tINPUT\tDETAIL")
	for _, o := range outcomes {
		detail := o.OutputPath
		if o.State != domain.SessionStateCompleted {
			detail = o.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(o.SessionID), o.State,
			humanize.RelTime(o.FinishedAt, now, "ago", "from now"), o.Duration().Round(time.Second), o.InputPath, detail)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective output policy as YAML",
		Long:  "Print the effective output policy: the defaults overlaid with POLICY_FILE. The output is a valid policy file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := config.MarshalPolicy(cfg.Policy)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to use as AUTH_TOKEN_HASH",
		Long:  "Print the bcrypt hash to use as AUTH_TOKEN_HASH. Without an argument the token is read from the first line of stdin, which keeps it out of shell history.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				token = strings.TrimRight(line, "\r\n")
			}
			hash, err := service.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check engine binaries, storage and host resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return runDoctor(ctx, cmd.OutOrStdout(), cfg)
		},
	}
}

func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config) error {
	var problems []string
	report := func(ok bool, format string, args ...any) {
		mark := "ok  "
		if !ok {
			mark = "FAIL"
			problems = append(problems, fmt.Sprintf(format, args...))
		}
		fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
	}

	ffmpegPath, ffprobePath, err := ffmpeg.ResolveBinaries(engineOptions(cfg))
	if err != nil {
		report(false, "engine: %v", err)
	} else {
		report(true, "ffmpeg: %s (%s)", ffmpegPath, binaryVersion(ctx, ffmpegPath))
		report(true, "ffprobe: %s (%s)", ffprobePath, binaryVersion(ctx, ffprobePath))
	}

	st, err := openStores(cfg)
	if err != nil {
		report(false, "store %s: %v", cfg.Store, err)
	} else {
		_, listErr := st.history.ListOutcomes(1)
		report(listErr == nil, "store %s in %s", cfg.Store, cfg.DataDir)
		_ = st.close()
	}

	if info, err := sysinfo.Collect(ctx, cfg.DataDir); err != nil {
		report(false, "disk: %v", err)
	} else {
		report(!info.LowDisk(cfg.MinFreeBytes()), "disk: %s free of %s (minimum %s)",
			humanize.IBytes(info.DiskFreeBytes), humanize.IBytes(info.DiskTotalBytes), humanize.IBytes(cfg.MinFreeBytes()))
		if info.LoadAvailable {
			fmt.Fprintf(w, "       load %.2f %.2f %.2f on %d CPUs\n", info.Load1, info.Load5, info.Load15, info.CPUs)
		}
	}

	if cfg.InboxDir != "" {
		report(isDir(cfg.InboxDir), "inbox: %s", cfg.InboxDir)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d check(s) failed", len(problems))
	}
	return nil
}

// binaryVersion returns the first line of "<bin> -version".
func binaryVersion(ctx context.Context, bin string) string {
	out, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return "version unknown"
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
