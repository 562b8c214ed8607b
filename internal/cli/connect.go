package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-linebridge/dispatch"
	"github.com/arloliu/go-linebridge/internal/pool"
	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/protocol"
	"github.com/arloliu/go-linebridge/session"
)

const connectLongDesc string = `Connect to a device and print one line per decoded event:

  <seq>	<kind>	<line>

With --stdin every line read from standard input is sent to the device.
With --reconnect the connection is re-established after it ends, waiting
--reconnect-delay between attempts.`

var connectBindings = []flagBinding{
	{"device.host", "host"},
	{"device.port", "port"},
	{"device.connect_timeout", "connect-timeout"},
	{"device.write_timeout", "write-timeout"},
	{"device.read_buffer_size", "read-buffer-size"},
	{"device.max_line_length", "max-line-length"},
	{"device.reconnect", "reconnect"},
	{"device.reconnect_delay", "reconnect-delay"},
	{"device.max_attempts", "max-attempts"},
	{"device.send_stdin", "stdin"},
	{"device.volume_feedback", "volume-feedback"},
	{"metrics.listen", "metrics-listen"},
}

type connectCommander struct {
	cfg    *Config
	logger logger.Logger
	out    io.Writer
	in     io.Reader
}

func newConnectCmd(root *rootCommander) *cobra.Command {
	d := NewDefaultConfig().Device

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a device and print its events",
		Long:  connectLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd, connectBindings)
			if err != nil {
				return err
			}

			l, flush, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmder := &connectCommander{cfg: cfg, logger: l, out: cmd.OutOrStdout(), in: cmd.InOrStdin()}

			return cmder.run(ctx)
		},
	}

	cmd.Flags().StringP("host", "H", d.Host, "Device host")
	cmd.Flags().IntP("port", "p", d.Port, "Device TCP port")
	cmd.Flags().Duration("connect-timeout", d.ConnectTimeout, "TCP connect timeout")
	cmd.Flags().Duration("write-timeout", d.WriteTimeout, "Write deadline per sent line, 0 disables it")
	cmd.Flags().Int("read-buffer-size", d.ReadBufferSize, "Bytes requested per socket read")
	cmd.Flags().Int("max-line-length", d.MaxLineLength, "Longest accepted inbound line")
	cmd.Flags().Bool("reconnect", d.Reconnect, "Reconnect after the connection ends")
	cmd.Flags().Duration("reconnect-delay", d.ReconnectDelay, "Delay between connection attempts")
	cmd.Flags().Int("max-attempts", d.MaxAttempts, "Give up after this many attempts, 0 means no limit")
	cmd.Flags().Bool("stdin", d.SendStdin, "Send lines read from standard input")
	cmd.Flags().Bool("volume-feedback", d.VolumeFeedback, "Answer VR readings with a VOL:<percent> line")
	cmd.Flags().String("metrics-listen", "", "Serve prometheus metrics on this address")

	return cmd
}

func (c *connectCommander) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessCfg, err := c.cfg.SessionConfig(session.WithLogger(c.logger))
	if err != nil {
		return err
	}

	s, err := session.NewSession(sessCfg)
	if err != nil {
		return err
	}
	defer s.Close()

	router := dispatch.NewRouter(c.logger)
	if c.cfg.Device.VolumeFeedback {
		router.OnTelemetry(protocol.TagVolume, dispatch.VolumeHandler(protocol.ADCMax, func(seq uint64, ratio float64) {
			if err := s.Send(protocol.EncodeVolume(ratio)); err != nil {
				c.logger.Warn("failed to send volume feedback", "seq", seq, "error", err)
			}
		}))
	}

	s.AddEventHandler(c.printEvent, router.Handle)

	if listen := c.cfg.Metrics.Listen; listen != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", listen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(sessionCollectors(s, router)...)
		go func() {
			if err := serveMetrics(ctx, ln, c.cfg.Metrics.Path, reg, c.logger); err != nil {
				c.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if c.cfg.Device.SendStdin {
		go c.pumpInput(ctx, s)
	}

	return c.loop(ctx, s)
}

// printEvent runs on the read loop goroutine only, so writes to out never interleave.
func (c *connectCommander) printEvent(seq uint64, ev protocol.Event) {
	fmt.Fprintf(c.out, "%d\t%s\t%s\n", seq, ev.Kind(), ev)
}

// loop runs the session until it ends, reconnecting when configured to.
func (c *connectCommander) loop(ctx context.Context, s *session.Session) error {
	d := c.cfg.Device

	for attempt := 1; ; attempt++ {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		term, _ := s.Termination()
		if !d.Reconnect {
			return err
		}
		if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
			if err == nil {
				return nil
			}

			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		c.logger.Info("reconnecting", "attempt", attempt, "reason", term.Reason, "delay", d.ReconnectDelay)
		if err := pool.Sleep(ctx, d.ReconnectDelay); err != nil {
			return nil
		}
	}
}

// pumpInput sends every input line to the device. Lines typed while disconnected are dropped.
// Scan does not observe ctx, so after cancellation the goroutine stays blocked on
// input until the next line or until the process exits.
func (c *connectCommander) pumpInput(ctx context.Context, s *session.Session) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		if err := s.Send(scanner.Bytes()); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				c.logger.Warn("not connected, line dropped", "line", scanner.Text())
				continue
			}
			c.logger.Error("send failed", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("reading input failed", "error", err)
	}
}
