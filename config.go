package mptcpsim

// config.go holds the experiment configuration the drivers hand to
// RunExperiment.  Validation rejects anything that cannot describe a
// working model; nothing is silently clamped, since silent clamping
// is exactly the class of divergence the simulator exists to detect.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PathConfig describes one network path of the experiment
type PathConfig struct {
	// Rate is the bottleneck bandwidth in Mbps
	Rate float64 `yaml:"rate"`

	// RTT is the two-way propagation time in seconds (split evenly
	// between the forward and return directions)
	RTT float64 `yaml:"rtt"`

	// Capacity is the bottleneck buffer in bytes
	Capacity int64 `yaml:"capacity"`
}

// ExperimentConfig describes a complete simulation run
type ExperimentConfig struct {
	Name     string       `yaml:"name"`
	Coupling string       `yaml:"coupling"`
	Topology string       `yaml:"topology"` // "parallel" or "fattree"
	Paths    []PathConfig `yaml:"paths"`

	// fat-tree parameters, used when Topology is "fattree"
	Fanout   int `yaml:"fanout"`
	Sender   int `yaml:"sender"`
	Receiver int `yaml:"receiver"`

	RecvWindow int64  `yaml:"rcvwnd"`   // bytes
	MSS        int64  `yaml:"mss"`      // bytes
	Flowsize   int64  `yaml:"flowsize"` // total bytes across subflows
	DropPolicy string `yaml:"droppolicy"`

	InitialRTO float64 `yaml:"initialrto"` // seconds
	MaxRTO     float64 `yaml:"maxrto"`     // seconds
	ScanPeriod float64 `yaml:"scanperiod"` // seconds
	EndTime    float64 `yaml:"endtime"`    // seconds

	TracePath string `yaml:"tracepath"`
}

// DefaultExperimentConfig fills in the reference constants; drivers
// override what their scenario needs
func DefaultExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{
		Name:       "experiment",
		Coupling:   "UNCOUPLED",
		Topology:   "parallel",
		Paths:      []PathConfig{{Rate: 100.0, RTT: 0.02, Capacity: 64 * 1024}},
		Fanout:     0,
		Sender:     0,
		Receiver:   1,
		RecvWindow: 64 * 1024,
		MSS:        1460,
		Flowsize:   1 << 20,
		DropPolicy: "drop-tail",
		InitialRTO: 3.0,
		MaxRTO:     60.0,
		ScanPeriod: 0.1,
		EndTime:    30.0,
	}
}

// ReadExperimentConfig loads a yaml experiment description
func ReadExperimentConfig(filename string) (*ExperimentConfig, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := DefaultExperimentConfig()
	err = yaml.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	return cfg, nil
}

// CouplingValue resolves the configured coupling mode
func (cfg *ExperimentConfig) CouplingValue() (CouplingMode, error) {
	return ParseCouplingMode(cfg.Coupling)
}

// DropPolicyValue resolves the configured drop policy
func (cfg *ExperimentConfig) DropPolicyValue() (DropPolicy, error) {
	switch cfg.DropPolicy {
	case "drop-tail", "droptail", "":
		return DropTail, nil
	case "red", "random-early":
		return RandomEarly, nil
	}
	return DropTail, fmt.Errorf("unrecognized drop policy %q", cfg.DropPolicy)
}

// Validate fails fast on configuration that cannot run
func (cfg *ExperimentConfig) Validate() error {
	if _, err := cfg.CouplingValue(); err != nil {
		return err
	}
	if _, err := cfg.DropPolicyValue(); err != nil {
		return err
	}
	switch cfg.Topology {
	case "parallel", "fattree":
	default:
		return fmt.Errorf("unrecognized topology %q", cfg.Topology)
	}
	if len(cfg.Paths) == 0 {
		return fmt.Errorf("experiment %s declares no paths", cfg.Name)
	}
	for idx, pth := range cfg.Paths {
		if !(pth.Rate > 0.0) {
			return fmt.Errorf("path %d has non-positive rate %f", idx, pth.Rate)
		}
		if !(pth.RTT > 0.0) {
			return fmt.Errorf("path %d has non-positive rtt %f", idx, pth.RTT)
		}
		if pth.Capacity <= 0 {
			return fmt.Errorf("path %d has non-positive capacity %d", idx, pth.Capacity)
		}
	}
	if cfg.Topology == "fattree" {
		if cfg.Fanout < 2 || cfg.Fanout%2 != 0 {
			return fmt.Errorf("fat-tree fanout %d must be even and at least 2", cfg.Fanout)
		}
	}
	if cfg.MSS <= 0 {
		return fmt.Errorf("non-positive mss %d", cfg.MSS)
	}
	if cfg.RecvWindow < cfg.MSS {
		return fmt.Errorf("receive window %d below one segment %d", cfg.RecvWindow, cfg.MSS)
	}
	if cfg.Flowsize <= 0 {
		return fmt.Errorf("non-positive flowsize %d", cfg.Flowsize)
	}
	if !(cfg.InitialRTO > 0.0) {
		return fmt.Errorf("non-positive initial RTO %f", cfg.InitialRTO)
	}
	if cfg.MaxRTO < cfg.InitialRTO {
		return fmt.Errorf("RTO cap %f below initial RTO %f", cfg.MaxRTO, cfg.InitialRTO)
	}
	if !(cfg.ScanPeriod > 0.0) {
		return fmt.Errorf("non-positive scan period %f", cfg.ScanPeriod)
	}
	if !(cfg.EndTime > 0.0) {
		return fmt.Errorf("non-positive end time %f", cfg.EndTime)
	}
	return nil
}
