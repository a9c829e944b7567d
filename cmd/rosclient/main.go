// Command rosclient is a small demonstration CLI for
// [github.com/tzrikka/gorouteros/pkg/routeros]: it dials a RouterOS
// device, logs in, runs one command, and prints its responses. It
// exists to exercise the public API end-to-end, not as a core part of
// the library.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	altsrc "github.com/urfave/cli-altsrc/v3"

	"github.com/tzrikka/gorouteros/internal/logger"
	"github.com/tzrikka/gorouteros/pkg/proto"
	"github.com/tzrikka/gorouteros/pkg/routeros"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "rosclient"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "rosclient",
		Usage:   "send commands to a MikroTik RouterOS device over its API",
		Version: bi.Main.Version,
		Flags:   Flags(configFile()),
		Commands: []*cli.Command{
			runCommand(),
			monitorCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// configFile returns the path to the app's configuration file,
// creating an empty one if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// newLogger builds a zerolog logger, switching to a colorized console
// writer for --pretty-log (auto-detecting whether stderr is a
// terminal) instead of the default newline-delimited JSON.
func newLogger(cmd *cli.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if cmd.Bool("verbose") {
		level = zerolog.DebugLevel
	}

	var w io.Writer = os.Stderr
	if cmd.Bool("pretty-log") {
		out := os.Stderr
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			w = zerolog.ConsoleWriter{Out: colorable.NewColorable(out)}
		} else {
			w = zerolog.ConsoleWriter{Out: out, NoColor: true}
		}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func connect(ctx context.Context, cmd *cli.Command) (*routeros.Client, error) {
	log := newLogger(cmd)
	return routeros.Connect(ctx, cmd.String("address"), cmd.String("username"), cmd.String("password"),
		routeros.WithLogger(log),
		routeros.WithDialTimeout(cmd.Duration("dial-timeout")),
	)
}

// parseAttributes turns a list of "key=value" and bare "key" CLI
// arguments into Builder calls.
func parseAttributes(b *proto.Builder, args []string) *proto.Builder {
	for _, arg := range args {
		key, value, hasValue := strings.Cut(arg, "=")
		if hasValue {
			b = b.Attribute(key, value)
		} else {
			b = b.FlagAttribute(key)
		}
	}
	return b
}

func buildCommand(path string, args []string) (*proto.Command, error) {
	b, err := proto.NewCommand().Command(path)
	if err != nil {
		return nil, err
	}
	return parseAttributes(b, args).Build()
}

func printResponse(resp proto.Response) {
	switch resp.Kind {
	case proto.ResponseReply:
		fmt.Println("!re")
		for k, v := range resp.Attributes {
			if v == nil {
				fmt.Printf("  %s\n", k)
				continue
			}
			fmt.Printf("  %s=%s\n", k, *v)
		}
	case proto.ResponseDone:
		fmt.Println("!done")
	case proto.ResponseTrap:
		fmt.Printf("!trap %s\n", resp.Message)
	case proto.ResponseFatal:
		fmt.Printf("!fatal %s\n", resp.FatalMessage)
	case proto.ResponseEmpty:
		fmt.Println("!empty")
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "send a command and print its responses until the stream closes",
		ArgsUsage: "<path> [key=value ...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("missing command path")
			}

			client, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			built, err := buildCommand(args[0], args[1:])
			if err != nil {
				return err
			}

			stream, err := client.Send(ctx, built)
			if err != nil {
				return err
			}
			for resp := range stream.C {
				printResponse(resp)
			}
			return nil
		},
	}
}

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:      "monitor",
		Usage:     "like run, but cancels the stream on Ctrl-C (for streaming commands)",
		ArgsUsage: "<path> [key=value ...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("missing command path")
			}

			client, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			built, err := buildCommand(args[0], args[1:])
			if err != nil {
				return err
			}

			stream, err := client.Send(ctx, built)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				<-sigCh
				stream.Cancel()
			}()

			for resp := range stream.C {
				printResponse(resp)
			}
			return nil
		},
	}
}
