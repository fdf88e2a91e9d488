package agent

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/ganwy2017/formation-control-1/formation"
)

// Defaults applied to unset configuration fields. They mirror the parameters
// of the reference formation-control node.
const (
	DefaultNumVelocities            = 2
	DefaultSampleTime               = 0.1
	DefaultVelocityVirtualThreshold = 0.5
	DefaultLOSDistanceThreshold     = 1.0
	DefaultSpeedMin                 = 0.0
	DefaultSpeedMax                 = 1.0
	DefaultSteerMin                 = -math.Pi / 6
	DefaultSteerMax                 = math.Pi / 6
	DefaultKpSpeed                  = 1.0
	DefaultKiSpeed                  = 0.05
	DefaultKpSteer                  = 1.0
	DefaultVehicleLength            = 0.25
	DefaultWorldLimit               = 5.0
)

// Config holds everything an agent reads once at startup: identity, neighbor
// set, cycle timing, actuation limits, controller gains and the initial pose.
// Unset pose fields fall back to a uniform random placement inside the world
// limit.
type Config struct {
	ID         int   `json:"id"`
	Neighbours []int `json:"neighbours"`

	SampleTime               float64 `json:"sample_time"`
	VelocityVirtualThreshold float64 `json:"velocity_virtual_threshold"`
	LOSDistanceThreshold     float64 `json:"los_distance_threshold"`

	SpeedMin float64 `json:"speed_min"`
	SpeedMax float64 `json:"speed_max"`
	SteerMin float64 `json:"steer_min"`
	SteerMax float64 `json:"steer_max"`

	KpSpeed float64 `json:"k_p_speed"`
	KiSpeed float64 `json:"k_i_speed"`
	KpSteer float64 `json:"k_p_steer"`

	VehicleLength float64 `json:"vehicle_length"`
	WorldLimit    float64 `json:"world_limit"`

	// Diagonal entries of the gain matrices Gamma (statistics error), Lambda
	// (Jacobian weighting) and B (virtual actuation damping).
	DiagGamma  []float64 `json:"diag_elements_gamma"`
	DiagLambda []float64 `json:"diag_elements_lambda"`
	DiagB      []float64 `json:"diag_elements_b"`

	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Theta *float64 `json:"theta,omitempty"`
}

func ones(n int) []float64 {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return d
}

// withDefaults returns a copy of the config with every unset numeric field
// replaced by its default. Gain defaults follow the reference node: Gamma and
// B identity, Lambda zero.
func (cfg Config) withDefaults() Config {
	if cfg.SampleTime == 0 {
		cfg.SampleTime = DefaultSampleTime
	}
	if cfg.VelocityVirtualThreshold == 0 {
		cfg.VelocityVirtualThreshold = DefaultVelocityVirtualThreshold
	}
	if cfg.LOSDistanceThreshold == 0 {
		cfg.LOSDistanceThreshold = DefaultLOSDistanceThreshold
	}
	if cfg.SpeedMin == 0 && cfg.SpeedMax == 0 {
		cfg.SpeedMin = DefaultSpeedMin
		cfg.SpeedMax = DefaultSpeedMax
	}
	if cfg.SteerMin == 0 && cfg.SteerMax == 0 {
		cfg.SteerMin = DefaultSteerMin
		cfg.SteerMax = DefaultSteerMax
	}
	if cfg.KpSpeed == 0 {
		cfg.KpSpeed = DefaultKpSpeed
	}
	if cfg.KiSpeed == 0 {
		cfg.KiSpeed = DefaultKiSpeed
	}
	if cfg.KpSteer == 0 {
		cfg.KpSteer = DefaultKpSteer
	}
	if cfg.VehicleLength == 0 {
		cfg.VehicleLength = DefaultVehicleLength
	}
	if cfg.WorldLimit == 0 {
		cfg.WorldLimit = DefaultWorldLimit
	}
	if cfg.DiagGamma == nil {
		cfg.DiagGamma = ones(formation.NumStats)
	}
	if cfg.DiagLambda == nil {
		cfg.DiagLambda = make([]float64, formation.NumStats)
	}
	if cfg.DiagB == nil {
		cfg.DiagB = ones(DefaultNumVelocities)
	}
	return cfg
}

// Validate checks the configuration invariants. All failures here are fatal:
// the host decides shutdown policy, the library never exits the process.
func (cfg *Config) Validate() error {
	if cfg.SampleTime <= 0 {
		return errors.Errorf("sample_time must be positive, got %v", cfg.SampleTime)
	}
	if cfg.VelocityVirtualThreshold <= 0 {
		return errors.Errorf("velocity_virtual_threshold must be positive, got %v", cfg.VelocityVirtualThreshold)
	}
	if cfg.LOSDistanceThreshold <= 0 {
		return errors.Errorf("los_distance_threshold must be positive, got %v", cfg.LOSDistanceThreshold)
	}
	if cfg.SpeedMin >= cfg.SpeedMax {
		return errors.Errorf("speed limits must satisfy min < max, got [%v, %v]", cfg.SpeedMin, cfg.SpeedMax)
	}
	if cfg.SteerMin >= cfg.SteerMax {
		return errors.Errorf("steer limits must satisfy min < max, got [%v, %v]", cfg.SteerMin, cfg.SteerMax)
	}
	if cfg.VehicleLength <= 0 {
		return errors.Errorf("vehicle_length must be positive, got %v", cfg.VehicleLength)
	}
	if cfg.WorldLimit <= 0 {
		return errors.Errorf("world_limit must be positive, got %v", cfg.WorldLimit)
	}
	if len(cfg.DiagGamma) != formation.NumStats {
		return errors.Errorf("diag_elements_gamma must have %d entries, got %d", formation.NumStats, len(cfg.DiagGamma))
	}
	if len(cfg.DiagLambda) != formation.NumStats {
		return errors.Errorf("diag_elements_lambda must have %d entries, got %d", formation.NumStats, len(cfg.DiagLambda))
	}
	if len(cfg.DiagB) != DefaultNumVelocities {
		return errors.Errorf("diag_elements_b must have %d entries, got %d", DefaultNumVelocities, len(cfg.DiagB))
	}
	return nil
}

// initialPose resolves the configured initial pose, drawing unset fields
// uniformly at random: position within [-WorldLimit, WorldLimit], heading in
// (-π, π].
func (cfg *Config) initialPose() Pose {
	p := Pose{}
	if cfg.X != nil {
		p.X = *cfg.X
	} else {
		p.X = cfg.WorldLimit * (2*rand.Float64() - 1)
	}
	if cfg.Y != nil {
		p.Y = *cfg.Y
	} else {
		p.Y = cfg.WorldLimit * (2*rand.Float64() - 1)
	}
	if cfg.Theta != nil {
		p.Theta = *cfg.Theta
	} else {
		p.Theta = math.Pi - 2*math.Pi*rand.Float64()
	}
	return p
}
