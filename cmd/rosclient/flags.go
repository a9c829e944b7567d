package main

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// Flags defines the CLI flags shared by every subcommand. They can
// also be set via environment variables or the app's configuration
// file, in that order of precedence.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "address",
			Usage: "RouterOS device address (host:port)",
			Value: "192.168.88.1:8728",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("ROS_ADDRESS"),
				toml.TOML("routeros.address", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "username",
			Usage: "RouterOS API username",
			Value: "admin",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("ROS_USERNAME"),
				toml.TOML("routeros.username", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "password",
			Usage: "RouterOS API password",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("ROS_PASSWORD"),
				toml.TOML("routeros.password", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "dial-timeout",
			Usage: "timeout for the initial TCP connection",
			Value: 10 * time.Second,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("ROS_DIAL_TIMEOUT"),
				toml.TOML("routeros.dial_timeout", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "debug-level logging",
		},
	}
}
