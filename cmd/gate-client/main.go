// Command gate-client exercises a goGate server: it registers accounts,
// fetches tokens and sends paced request runs that back off on 429.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrEthical07/goGate/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	baseURL  string
	username string
	password string
	token    string
	retries  int
	maxWait  time.Duration
	verbose  bool
	out      io.Writer
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{out: out}

	root := &cobra.Command{
		Use:          "gate-client",
		Short:        "Client for goGate-protected APIs",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base-url", envOr("GATE_URL", "http://localhost:8080"), "Server base URL")
	pf.StringVarP(&opts.username, "user", "u", "", "Basic-auth username")
	pf.StringVarP(&opts.password, "password", "p", "", "Basic-auth password")
	pf.StringVar(&opts.token, "token", os.Getenv("GATE_TOKEN"), "Bearer token")
	pf.IntVar(&opts.retries, "retries", 3, "Retries after a 429; 0 disables")
	pf.DurationVar(&opts.maxWait, "max-wait", 10*time.Second, "Longest backoff between retries")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log retries")

	root.AddCommand(
		newRunCommand(opts),
		newRegisterCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) client(rpm float64) (*client.Client, error) {
	logger := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = l
	}
	retries := o.retries
	if retries == 0 {
		retries = -1
	}
	return client.New(client.Config{
		BaseURL:           o.baseURL,
		RequestsPerMinute: rpm,
		MaxRetries:        retries,
		MaxRetryWait:      o.maxWait,
		Username:          o.username,
		Password:          o.password,
		Token:             o.token,
	}, logger), nil
}

func newRunCommand(opts *options) *cobra.Command {
	var (
		rpm   float64
		count int
	)
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Send paced GET requests and report rate-limit headers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rpm <= 0 {
				return errors.New("--rpm must be > 0")
			}
			path := "/api/v1/users/1"
			if len(args) == 1 {
				path = args[0]
			}
			if count <= 0 {
				count = int(rpm)
			}

			c, err := opts.client(rpm)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "sending %d requests to %s at %.0f/min\n", count, path, rpm)
			return c.Run(cmd.Context(), path, count, func(i int, resp *client.Response, err error) {
				if errors.Is(err, client.ErrRetriesExhausted) {
					fmt.Fprintf(opts.out, "#%d throttled after %d attempts, resets %s\n",
						i+1, resp.Attempts, resp.RateLimit.Reset.Format(time.RFC3339))
					return
				}
				fmt.Fprintf(opts.out, "#%d status=%d remaining=%d/%d attempts=%d\n",
					i+1, resp.StatusCode, resp.RateLimit.Remaining, resp.RateLimit.Limit, resp.Attempts)
			})
		},
	}
	cmd.Flags().Float64Var(&rpm, "rpm", 60, "Requests per minute")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of requests; defaults to one minute's worth")
	return cmd
}

func newRegisterCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(0)
			if err != nil {
				return err
			}
			if err := c.Register(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "created %s\n", args[0])
			return nil
		},
	}
}

func newTokenCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange credentials for a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(0)
			if err != nil {
				return err
			}
			tok, ttl, err := c.FetchToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "%s\nexpires in %s\n", tok, ttl)
			return nil
		},
	}
}
