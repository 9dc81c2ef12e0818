// Command passctl is the operator tool for the daypass API: it watches a
// pass through the success-page countdown, mints admin tokens and checks
// integrator webhook signatures.
package main

import (
	"daypass/src/config"
	"daypass/src/countdown"
	"daypass/src/delivery"
	"daypass/src/middlewares"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "passctl",
		Short:        "Operate the daypass API",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(verifyCmd())
	return rootCmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <pass-id>",
		Short: "Run the success-page countdown against a pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid pass id: %w", err)
			}
			api, _ := cmd.Flags().GetString("api")
			total, _ := cmd.Flags().GetDuration("countdown")
			interval, _ := cmd.Flags().GetDuration("poll")

			runner := countdown.NewRunner(countdown.NewHTTPPoller(api, args[0]), total)
			runner.PollInterval = interval
			out := cmd.OutOrStdout()
			runner.Observer = func(s countdown.Snapshot) {
				fmt.Fprintf(out, "%2ds  %s\n", s.Remaining, s.Phase)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			snap, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			printResult(out, snap)
			return nil
		},
	}
	cmd.Flags().String("api", "http://localhost:9090/api/v1", "API base URL")
	cmd.Flags().Duration("countdown", config.CountdownDuration(), "countdown before a cached code is shown")
	cmd.Flags().Duration("poll", 2*time.Second, "status poll interval")
	return cmd
}

func printResult(out io.Writer, s countdown.Snapshot) {
	if s.Phase == countdown.PhaseNoPin {
		fmt.Fprintln(out, "No PIN available. Please contact support.")
		return
	}
	fmt.Fprintf(out, "PIN %s (source: %s)\n", s.DisplayedCode, s.PinSource)
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if len(config.JWTSecret()) == 0 {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := middlewares.NewAdminToken(user, org, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("org", "", "organization slug")
	cmd.Flags().String("user", "ops", "username recorded in the token")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <payload-file>",
		Short: "Check a webhook delivery against its signature header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			header, _ := cmd.Flags().GetString("signature")
			tolerance, _ := cmd.Flags().GetDuration("tolerance")

			var payload []byte
			var err error
			if args[0] == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if err := delivery.Verify(secret, payload, header, time.Now(), tolerance); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature ok")
			return nil
		},
	}
	cmd.Flags().String("secret", "", "subscription secret")
	cmd.Flags().String("signature", "", "value of the "+delivery.SignatureHeader+" header")
	cmd.Flags().Duration("tolerance", delivery.DefaultTolerance, "maximum signature age")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

