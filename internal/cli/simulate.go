package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-linebridge/devicesim"
	"github.com/arloliu/go-linebridge/logger"
)

const simulateLongDesc string = `Serve a scripted device on a TCP port.

Every accepted connection receives the script cut into --chunk-size byte
fragments, --delay apart, with --line-delay between lines. The defaults
reproduce the reference firmware: one byte every 50ms, CRLF line endings.`

var simulateBindings = []flagBinding{
	{"simulator.listen", "listen"},
	{"simulator.script_file", "script-file"},
	{"simulator.chunk_size", "chunk-size"},
	{"simulator.delay", "delay"},
	{"simulator.line_delay", "line-delay"},
	{"simulator.empty_writes", "empty-writes"},
	{"simulator.line_ending", "line-ending"},
	{"simulator.echo", "echo"},
	{"simulator.repeat", "repeat"},
}

type simulateCommander struct {
	cfg    *Config
	logger logger.Logger
}

func newSimulateCmd(root *rootCommander) *cobra.Command {
	d := NewDefaultConfig().Simulator

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a scripted device",
		Long:  simulateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd, simulateBindings)
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

			cmder := &simulateCommander{cfg: cfg, logger: l}

			return cmder.run(ctx)
		},
	}

	cmd.Flags().StringP("listen", "l", d.Listen, "Address to listen on")
	cmd.Flags().String("script-file", d.ScriptFile, "File with one script line per row (default: built-in demo script)")
	cmd.Flags().Int("chunk-size", d.ChunkSize, "Bytes per write, 0 writes whole lines")
	cmd.Flags().Duration("delay", d.Delay, "Delay between fragments of a line")
	cmd.Flags().Duration("line-delay", d.LineDelay, "Delay between lines")
	cmd.Flags().Bool("empty-writes", d.EmptyWrites, "Interleave zero-length writes")
	cmd.Flags().String("line-ending", d.LineEnding, "Line ending (lf, crlf)")
	cmd.Flags().Bool("echo", d.Echo, "Echo back lines sent by the peer")
	cmd.Flags().Bool("repeat", d.Repeat, "Keep accepting connections after the first one")

	return cmd
}

func (c *simulateCommander) run(ctx context.Context) error {
	policy, err := c.cfg.Policy()
	if err != nil {
		return err
	}

	lines, err := c.cfg.ScriptLines()
	if err != nil {
		return err
	}

	opts := []devicesim.Option{devicesim.WithLogger(c.logger)}
	if c.cfg.Simulator.Echo {
		opts = append(opts, devicesim.WithEcho())
	}

	src, err := devicesim.NewSource(lines, policy, opts...)
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.cfg.Simulator.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	c.logger.Info("simulator listening", "listen", ln.Addr().String(), "lines", len(lines), "chunk_size", policy.ChunkSize)

	for {
		err := src.Serve(ctx, ln)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && !isPeerGone(err):
			return err
		case err != nil:
			c.logger.Info("peer went away", "error", err)
		default:
			c.logger.Info("script delivered")
		}

		if !c.cfg.Simulator.Repeat {
			return nil
		}
	}
}

// isPeerGone reports whether err comes from the peer dropping the connection mid-script.
func isPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}
