package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/pkg/poller"
)

var (
	clientToken       string
	clientFingerprint string
	summarizeInterval time.Duration
	summarizeTimeout  time.Duration
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <url>",
	Short: "Submit a video to a running server and poll until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		sourceID, err := model.ParseSourceID(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if summarizeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, summarizeTimeout)
			defer cancel()
		}

		client := newAPIClient()
		out := cmd.OutOrStdout()

		// The provisional id drives the progress display until the server
		// answers with the canonical one.
		session := poller.NewSession(client, uuid.NewString(),
			poller.WithInterval(summarizeInterval),
			poller.WithOnUpdate(func(p poller.Progress) { printProgress(out, p) }),
		)

		resp, err := client.Submit(ctx, poller.SubmitRequest{URL: args[0], TaskID: session.ID()})
		if err != nil {
			return err
		}
		if resp.Cached && resp.Summary != nil {
			fmt.Fprintln(out, "Already summarized.")
			printSummary(out, resp.Summary)
			return nil
		}
		session.Reconcile(resp.TaskID)

		p, err := session.Wait(ctx)
		if err != nil {
			return eris.Wrapf(err, "wait for task %s", resp.TaskID)
		}
		if p.Status == poller.StatusFailed {
			return eris.Errorf("summarization failed (%s): %s", p.ErrorKind, p.Error)
		}

		sum, err := client.GetSummary(ctx, sourceID)
		if err != nil {
			return err
		}
		printSummary(out, sum)
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <taskId>",
	Short: "Read the progress record of a task once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		p, err := newAPIClient().GetProgress(cmd.Context(), args[0])
		if poller.IsNotFound(err) {
			return eris.Errorf("task %s not found or expired", args[0])
		}
		if err != nil {
			return err
		}
		printProgress(cmd.OutOrStdout(), *p)
		return nil
	},
}

func newAPIClient() poller.Client {
	var opts []poller.Option
	if clientToken != "" {
		opts = append(opts, poller.WithToken(clientToken))
	}
	if clientFingerprint != "" {
		opts = append(opts, poller.WithFingerprint(clientFingerprint))
	}
	return poller.NewClient(cfg.Server.BaseURL, opts...)
}

func printProgress(w io.Writer, p poller.Progress) {
	suffix := ""
	if p.Simulated {
		suffix = " (estimated)"
	}
	line := fmt.Sprintf("[%3d%%] %-10s %s%s", p.Percent, p.Status, p.Stage, suffix)
	if p.Error != "" {
		line += ": " + p.Error
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, s *poller.Summary) {
	if s.Artifact.Title != "" {
		fmt.Fprintf(w, "\n%s", s.Artifact.Title)
		if s.Artifact.Channel != "" {
			fmt.Fprintf(w, " (%s)", s.Artifact.Channel)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", len(s.Artifact.Title)))
	}
	fmt.Fprintln(w, s.Artifact.Content)
}

func init() {
	for _, c := range []*cobra.Command{summarizeCmd, progressCmd} {
		c.Flags().StringVar(&clientToken, "token", "", "bearer token for a signed-in account")
		c.Flags().StringVar(&clientFingerprint, "fingerprint", "", "client fingerprint for anonymous use")
		rootCmd.AddCommand(c)
	}
	summarizeCmd.Flags().DurationVar(&summarizeInterval, "interval", time.Second, "poll interval")
	summarizeCmd.Flags().DurationVar(&summarizeTimeout, "timeout", 15*time.Minute, "give up after this long")
}
