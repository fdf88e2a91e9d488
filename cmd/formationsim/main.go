// Package main simulates a formation of agents on the in-process bus,
// steering them toward a target shape and reporting how far apart their
// statistics estimates are.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/stat"

	"github.com/ganwy2017/formation-control-1/agent"
	"github.com/ganwy2017/formation-control-1/formation"
	"github.com/ganwy2017/formation-control-1/transport"
)

var logger = golog.NewDevelopmentLogger("formation_sim")

// Arguments for the command.
type Arguments struct {
	NumAgents   int     `flag:"agents,default=4,usage=number of simulated agents"`
	DurationSec float64 `flag:"duration_secs,default=30,usage=how long to run in seconds"`
	SampleTime  float64 `flag:"sample_time,default=0.1,usage=cycle period in seconds"`
	WorldLimit  float64 `flag:"world_limit,default=5,usage=half-width of the random placement square"`
	TargetMx    float64 `flag:"m_x,default=0,usage=target first moment x"`
	TargetMy    float64 `flag:"m_y,default=0,usage=target first moment y"`
	TargetMxx   float64 `flag:"m_xx,default=1,usage=target second moment xx"`
	TargetMxy   float64 `flag:"m_xy,default=0,usage=target second moment xy"`
	TargetMyy   float64 `flag:"m_yy,default=1,usage=target second moment yy"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	bus := transport.NewBus(logger)
	agents := make([]*agent.Agent, 0, argsParsed.NumAgents)
	loops := make([]*agent.Loop, 0, argsParsed.NumAgents)
	for id := 1; id <= argsParsed.NumAgents; id++ {
		cfg := agent.Config{
			ID:         id,
			SampleTime: argsParsed.SampleTime,
			WorldLimit: argsParsed.WorldLimit,
		}
		for other := 1; other <= argsParsed.NumAgents; other++ {
			if other != id {
				cfg.Neighbours = append(cfg.Neighbours, other)
			}
		}
		a, err := agent.New(cfg, logger)
		if err != nil {
			return err
		}
		bus.Register(id, a)
		agents = append(agents, a)
		loops = append(loops, agent.NewLoop(a, bus, logger))
	}

	bus.PublishTarget(formation.Statistics{
		Mx:  argsParsed.TargetMx,
		My:  argsParsed.TargetMy,
		Mxx: argsParsed.TargetMxx,
		Mxy: argsParsed.TargetMxy,
		Myy: argsParsed.TargetMyy,
	})

	for _, loop := range loops {
		if err := loop.Start(ctx); err != nil {
			return err
		}
	}
	defer func() {
		for _, loop := range loops {
			loop.Stop()
		}
	}()

	deadline := time.Now().Add(time.Duration(argsParsed.DurationSec * float64(time.Second)))
	for time.Now().Before(deadline) {
		if !utils.SelectContextOrWait(ctx, time.Second) {
			return ctx.Err()
		}
		logger.Infow("estimate spread", "variance", estimateVariance(agents))
	}

	for _, a := range agents {
		pose := a.Pose()
		logger.Infow("final pose", "agent", a.ID(), "x", pose.X, "y", pose.Y, "theta", pose.Theta)
	}
	return nil
}

// estimateVariance sums, over the five moments, the variance of that moment
// across all agents' estimates. It shrinks toward zero as consensus wins.
func estimateVariance(agents []*agent.Agent) float64 {
	samples := make([][]float64, formation.NumStats)
	for _, a := range agents {
		v := a.Estimated().Vector()
		for i := range samples {
			samples[i] = append(samples[i], v.AtVec(i))
		}
	}
	var total float64
	for _, moment := range samples {
		total += stat.Variance(moment, nil)
	}
	return total
}
