package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/httq-go/internal/constants"
	"github.com/sara-star-quant/httq-go/pkg/kem"
	"github.com/sara-star-quant/httq-go/pkg/metrics"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
	"github.com/sara-star-quant/httq-go/pkg/tunnel"
)

func benchCmd() *cobra.Command {
	var (
		handshakes int
		throughput bool
		size       string
		duration   time.Duration
		cipher     string
		allLevels  bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark handshakes and sealed-message throughput in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handshakes == 0 && !throughput {
				return errors.New("no benchmarks specified; use --handshakes or --throughput")
			}
			out := cmd.OutOrStdout()
			base := tunnel.DefaultHandshakeConfig()
			base.Level = cfg.Client.Level
			base.Hybrid = cfg.Client.Hybrid

			if handshakes > 0 {
				levels := []kem.Level{base.Level}
				if allLevels {
					levels = []kem.Level{kem.L1, kem.L2, kem.L3}
				}
				for _, l := range levels {
					hc := base
					hc.Level = l
					if err := benchHandshakes(cmd.Context(), out, hc, handshakes); err != nil {
						return err
					}
					fmt.Fprintln(out)
				}
			}

			if throughput {
				total, err := parseSize(size)
				if err != nil {
					return err
				}
				cs, err := protocol.ParseCipherSuite(cipher)
				if err != nil {
					return err
				}
				base.CipherSuites = []constants.CipherSuite{cs}
				return benchThroughput(cmd.Context(), out, base, total, duration)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&handshakes, "handshakes", 0, "number of handshakes to benchmark (0 = skip)")
	fl.BoolVar(&allLevels, "all-levels", false, "benchmark handshakes at L1, L2 and L3")
	fl.BoolVar(&throughput, "throughput", false, "run the throughput benchmark")
	fl.StringVar(&size, "size", "100MB", "data size for the throughput test (e.g. 100MB, 1GB)")
	fl.DurationVar(&duration, "duration", 10*time.Second, "maximum duration of the throughput test")
	fl.StringVar(&cipher, "cipher", "aes-256-gcm", "cipher suite: aes-256-gcm or chacha20-poly1305")
	return cmd
}

// pipePair runs a handshake over net.Pipe and returns both transports.
// discard drops the pipe and both sessions without a closing exchange.
func pipePair(ctx context.Context, hc tunnel.HandshakeConfig) (initiator, responder *tunnel.Transport, discard func(), err error) {
	c1, c2 := net.Pipe()
	ic, rc := tunnel.NewStreamConn(c1), tunnel.NewStreamConn(c2)

	type result struct {
		t   *tunnel.Transport
		err error
	}
	run := func(newHS func(tunnel.HandshakeConfig) (*tunnel.Handshake, error), conn *tunnel.StreamConn, out chan<- result) {
		hs, err := newHS(hc)
		if err != nil {
			out <- result{err: err}
			return
		}
		s, err := hs.Run(ctx, conn)
		if err != nil {
			out <- result{err: err}
			return
		}
		t, err := tunnel.NewTransport(s, conn)
		out <- result{t: t, err: err}
	}

	ich, rch := make(chan result, 1), make(chan result, 1)
	go run(tunnel.NewResponder, rc, rch)
	go run(tunnel.NewInitiator, ic, ich)
	ir, rr := <-ich, <-rch
	if err := errors.Join(ir.err, rr.err); err != nil {
		ic.Close()
		rc.Close()
		return nil, nil, nil, err
	}
	discard = func() {
		c1.Close()
		c2.Close()
		_ = ir.t.Close()
		_ = rr.t.Close()
	}
	return ir.t, rr.t, discard, nil
}

func benchHandshakes(ctx context.Context, out io.Writer, hc tunnel.HandshakeConfig, count int) error {
	params, err := kem.ParamsFor(hc.Level)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Benchmarking handshakes: %s, hybrid=%v (%d iterations)\n", params.Name, hc.Hybrid, count)
	fmt.Fprintln(out, strings.Repeat("─", 60))

	hist := metrics.NewHistogram(metrics.HandshakeLatencyBuckets)
	failed := 0
	start := time.Now()
	for i := 0; i < count; i++ {
		hsStart := time.Now()
		_, _, discard, err := pipePair(ctx, hc)
		if err != nil {
			failed++
			continue
		}
		hist.Observe(float64(time.Since(hsStart).Microseconds()) / 1000)
		discard()
	}
	total := time.Since(start)

	if failed == count {
		return fmt.Errorf("all %d handshakes failed", count)
	}
	s := hist.Summary()
	fmt.Fprintf(out, "  Successful: %d  Failed: %d  Total: %v\n", count-failed, failed, total.Round(time.Millisecond))
	fmt.Fprintf(out, "  Mean: %.3fms  Min: %.3fms  Max: %.3fms\n", s.Mean, s.Min, s.Max)
	fmt.Fprintf(out, "  p50: %.3fms  p95: %.3fms  p99: %.3fms\n", s.Percentiles[0.5], s.Percentiles[0.95], s.Percentiles[0.99])
	fmt.Fprintf(out, "  Throughput: %.2f handshakes/sec\n", float64(count-failed)/total.Seconds())
	return nil
}

func benchThroughput(ctx context.Context, out io.Writer, hc tunnel.HandshakeConfig, totalBytes int64, duration time.Duration) error {
	fmt.Fprintln(out, "Benchmarking throughput")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "Target: %s over at most %v, cipher %s\n", formatSize(totalBytes), duration, hc.CipherSuites[0])

	sender, receiver, discard, err := pipePair(ctx, hc)
	if err != nil {
		return err
	}
	defer discard()

	chunk := make([]byte, 8192)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	received := make(chan int64, 1)
	go func() {
		var n int64
		for {
			data, err := receiver.Receive(ctx)
			if err != nil {
				break
			}
			n += int64(len(data))
		}
		received <- n
	}()

	var sent int64
	start := time.Now()
	for sent < totalBytes && time.Since(start) < duration {
		if err := sender.Send(ctx, chunk); err != nil {
			return err
		}
		sent += int64(len(chunk))
	}
	_ = sender.Close()
	got := <-received
	elapsed := time.Since(start)

	mbps := float64(sent) / elapsed.Seconds() / 1024 / 1024
	fmt.Fprintf(out, "  Sent: %s  Received: %s  Duration: %v\n", formatSize(sent), formatSize(got), elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  Throughput: %.2f MB/s (%.2f Mbps)\n", mbps, mbps*8)
	return nil
}

func parseSize(s string) (int64, error) {
	var value int64
	var unit string
	if _, err := fmt.Sscanf(s, "%d%s", &value, &unit); err != nil && value == 0 {
		return 0, fmt.Errorf("invalid size: %s", s)
	}

	switch strings.ToUpper(unit) {
	case "", "B":
		return value, nil
	case "KB", "K":
		return value * 1024, nil
	case "MB", "M":
		return value * 1024 * 1024, nil
	case "GB", "G":
		return value * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("invalid size unit: %s", unit)
	}
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}
