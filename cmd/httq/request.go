package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/httq-go/pkg/client"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
)

// requestFlags are shared by get and post.
type requestFlags struct {
	headers            []string
	timeout            time.Duration
	retries            int
	requireQuantumSafe bool
	fallback           bool
	verbose            bool
	data               string
	json               bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.headers, "header", "H", nil, `request header "Name: value" (repeatable)`)
	fl.DurationVar(&f.timeout, "timeout", 30*time.Second, "overall request timeout")
	fl.IntVar(&f.retries, "retries", 0, "re-handshake attempts after a session failure (0 = config default, -1 = none)")
	fl.BoolVar(&f.requireQuantumSafe, "require-quantum-safe", false, "fail instead of falling back to classical HTTPS")
	fl.BoolVar(&f.fallback, "fallback", false, "allow classical HTTPS fallback when the quantum-safe path fails")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print status, headers and session security details")
}

func getCmd() *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Send a GET request to an httq:// or https:// URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args[0], "GET", nil, &f)
		},
	}
	f.register(cmd)
	return cmd
}

func postCmd() *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "post <url>",
		Short: "Send a POST request; the body comes from --data, or stdin when --data is -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), f.data)
			if err != nil {
				return err
			}
			if f.json {
				f.headers = append(f.headers, "Content-Type: application/json")
			}
			return runRequest(cmd, args[0], "POST", body, &f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "request body, or - to read stdin")
	cmd.Flags().BoolVar(&f.json, "json", false, "send the body as application/json")
	return cmd
}

func runRequest(cmd *cobra.Command, rawURL, method string, body []byte, f *requestFlags) error {
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return err
	}

	obs := setupObservability(cfg, "httq-client")

	ccfg := cfg.Client
	if cmd.Flags().Changed("fallback") {
		ccfg.AllowFallback = f.fallback
	}
	ccfg.Logger = obs.logger
	ccfg.Collector = obs.collector
	ccfg.Tracer = obs.tracer
	if f.verbose {
		ccfg.OnEvent = func(ev client.Event) {
			fmt.Fprintf(cmd.ErrOrStderr(), "* %s %s\n", ev.Type, ev.Endpoint)
		}
	}

	c, err := client.New(ccfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := c.Do(ctx, rawURL, body, client.RequestOptions{
		Method:             method,
		Headers:            headers,
		Timeout:            f.timeout,
		Retries:            f.retries,
		RequireQuantumSafe: f.requireQuantumSafe,
	})
	if err != nil {
		obs.logger.Debug("request failed", metrics.Fields{"url": rawURL, "error": err.Error()})
		return err
	}

	if f.verbose {
		printResult(cmd.ErrOrStderr(), res)
	}
	_, err = cmd.OutOrStdout().Write(res.Data)
	return err
}

func printResult(w io.Writer, res *client.Result) {
	fmt.Fprintf(w, "< %d\n", res.Status)
	names := make([]string, 0, len(res.Headers))
	for name := range res.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range res.Headers[name] {
			fmt.Fprintf(w, "< %s: %s\n", name, v)
		}
	}
	if res.QuantumSafe {
		fmt.Fprintf(w, "* quantum-safe: %s (%d-bit), hybrid=%v, %s\n",
			res.Algorithm, res.SecurityBits, res.Hybrid, res.CipherSuite)
	} else {
		fmt.Fprintln(w, "* classical (not quantum-safe)")
	}
	fmt.Fprintf(w, "* request id: %s\n", res.RequestID)
}

func parseHeaders(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string][]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Name: value\")", h)
		}
		headers[name] = append(headers[name], strings.TrimSpace(value))
	}
	return headers, nil
}

func readBody(stdin io.Reader, data string) ([]byte, error) {
	if data != "-" {
		return []byte(data), nil
	}
	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return body, nil
}

