// Package main runs a single formation-control agent, optionally bridged to
// a ground station over a serial link.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/ganwy2017/formation-control-1/agent"
	"github.com/ganwy2017/formation-control-1/serialbridge"
	"github.com/ganwy2017/formation-control-1/transport"
)

var logger = golog.NewDevelopmentLogger("formation_agent")

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=path to the agent configuration file"`
	SerialPort string `flag:"serial,usage=serial port of the ground-station link"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	var cfg agent.Config
	if argsParsed.ConfigFile != "" {
		raw, err := os.ReadFile(argsParsed.ConfigFile)
		if err != nil {
			return errors.Wrap(err, "cannot read agent configuration")
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return errors.Wrap(err, "cannot parse agent configuration")
		}
	}

	return runAgent(ctx, cfg, argsParsed.SerialPort, logger)
}

func runAgent(ctx context.Context, cfg agent.Config, serialPort string, logger golog.Logger) (err error) {
	a, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}

	bus := transport.NewBus(logger)
	bus.Register(a.ID(), a)

	loop := agent.NewLoop(a, bus, logger)
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	if serialPort == "" {
		<-ctx.Done()
		return nil
	}

	bridge, err := serialbridge.New(
		serialbridge.Config{Port: serialPort},
		bus,
		transport.LoggingPosePublisher{Logger: logger},
		logger,
	)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, bridge.Close())
	}()
	// the bridge rides the bus like any other participant, forwarding this
	// agent's estimates and relaying inbound reports from the link
	bus.Register(-1, bridge)

	if err := bridge.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
