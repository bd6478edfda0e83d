// Package config loads the orchestrator's configuration through four
// layers — built-in defaults, then orch.config.json, then .orchrc, then
// environment variables — each overriding the previous. Grounded on
// cmd/factory/main.go's defaults-then-override pattern, generalized from
// "defaults < DB value" (the teacher has no config file, only flags and a
// database) to the spec's defaults-plus-two-files-plus-env layering.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/petestewart/orch-sub001/errs"
	"github.com/petestewart/orch-sub001/pipeline"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	RepoRoot            string        `json:"repoRoot"`
	PlanPath            string        `json:"planPath"`
	MainBranch          string        `json:"mainBranch"`
	MaxAgents           int           `json:"maxAgents"`
	MaxWorktreesPerEpic int           `json:"maxWorktreesPerEpic"`
	AutoCreateWorktrees bool          `json:"autoCreateWorktrees"`
	AgentTimeout        time.Duration `json:"agentTimeout"`
	CycleInterval       time.Duration `json:"cycleInterval"`
	LogLevel            string        `json:"logLevel"`

	TicketProgression pipeline.Mode `json:"ticketProgression"`
	ReviewMode        pipeline.Mode `json:"reviewMode"`
	QAMode            pipeline.Mode `json:"qaMode"`

	CostLimitPerTicket  float64 `json:"costLimitPerTicket"`
	CostLimitPerSession float64 `json:"costLimitPerSession"`
	CostLimitAction     string  `json:"costLimitAction"`

	AgentModel string `json:"agentModel"`

	MaxRetries int `json:"maxRetries"`

	ValidationCommandTimeout time.Duration `json:"validationCommandTimeout"`
	StrictCompletionMarker   bool          `json:"strictCompletionMarker"`
}

// Default returns the built-in baseline configuration, the first and
// weakest of the four layers.
func Default() Config {
	return Config{
		RepoRoot:                 ".",
		PlanPath:                 "PLAN.md",
		MainBranch:               "main",
		MaxAgents:                5,
		MaxWorktreesPerEpic:      3,
		AutoCreateWorktrees:      true,
		AgentTimeout:             30 * time.Minute,
		CycleInterval:            10 * time.Second,
		LogLevel:                 "info",
		TicketProgression:        pipeline.ModeAutomatic,
		ReviewMode:               pipeline.ModeAutomatic,
		QAMode:                   pipeline.ModeAutomatic,
		CostLimitPerTicket:       5.00,
		CostLimitPerSession:      50.00,
		CostLimitAction:          "warn",
		AgentModel:               "sonnet",
		MaxRetries:               3,
		ValidationCommandTimeout: 5 * time.Minute,
		StrictCompletionMarker:   false,
	}
}

// Load builds a Config by applying, in order: Default(), the JSON file at
// configPath (if present), the JSON file at rcPath (if present), then
// environment variable overrides. Missing files are not an error; a
// malformed file is.
func Load(configPath, rcPath string) (Config, error) {
	cfg := Default()

	if err := mergeFile(&cfg, configPath); err != nil {
		return Config{}, err
	}
	if err := mergeFile(&cfg, rcPath); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &errs.ConfigError{Key: path, Message: err.Error()}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return &errs.ConfigError{Key: path, Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// envOverrides maps ORCH_* environment variable names to a setter
// function, mirroring the style of explicit per-key overrides in
// cmd/factory/main.go (there: flag-over-DB; here: env-over-file).
var envOverrides = map[string]func(*Config, string){
	"ORCH_REPO_ROOT":                     func(c *Config, v string) { c.RepoRoot = v },
	"ORCH_PLAN_FILE":                     func(c *Config, v string) { c.PlanPath = v },
	"ORCH_MAIN_BRANCH":                   func(c *Config, v string) { c.MainBranch = v },
	"ORCH_MAX_AGENTS":                    func(c *Config, v string) { setInt(&c.MaxAgents, v) },
	"ORCH_MAX_WORKTREES_EPIC":            func(c *Config, v string) { setInt(&c.MaxWorktreesPerEpic, v) },
	"ORCH_AUTO_CREATE_WORKTREES":         func(c *Config, v string) { setBool(&c.AutoCreateWorktrees, v) },
	"ORCH_AGENT_TIMEOUT":                 func(c *Config, v string) { setDuration(&c.AgentTimeout, v) },
	"ORCH_CYCLE_INTERVAL":                func(c *Config, v string) { setDuration(&c.CycleInterval, v) },
	"ORCH_LOG_LEVEL":                     func(c *Config, v string) { c.LogLevel = v },
	"ORCH_AUTOMATION_TICKET_PROGRESSION": func(c *Config, v string) { c.TicketProgression = pipeline.Mode(v) },
	"ORCH_AUTOMATION_REVIEW_MODE":        func(c *Config, v string) { c.ReviewMode = pipeline.Mode(v) },
	"ORCH_AUTOMATION_QA_MODE":            func(c *Config, v string) { c.QAMode = pipeline.Mode(v) },
	"ORCH_COST_LIMIT_PER_TICKET":         func(c *Config, v string) { setFloat(&c.CostLimitPerTicket, v) },
	"ORCH_COST_LIMIT_PER_SESSION":        func(c *Config, v string) { setFloat(&c.CostLimitPerSession, v) },
	"ORCH_COST_LIMIT_ACTION":             func(c *Config, v string) { c.CostLimitAction = v },
	"ORCH_AGENT_MODEL":                   func(c *Config, v string) { c.AgentModel = v },
	"ORCH_MAX_RETRIES":                   func(c *Config, v string) { setInt(&c.MaxRetries, v) },
	"ORCH_VALIDATION_TIMEOUT":            func(c *Config, v string) { setDuration(&c.ValidationCommandTimeout, v) },
	"ORCH_STRICT_COMPLETION_MARKER":      func(c *Config, v string) { setBool(&c.StrictCompletionMarker, v) },
}

func applyEnv(cfg *Config) {
	for key, setter := range envOverrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			setter(cfg, v)
		}
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Validate enforces the invariants named in §6: positive caps, recognized
// enum values.
func Validate(cfg Config) error {
	if cfg.MaxAgents < 1 {
		return &errs.ConfigError{Key: "maxAgents", Message: "must be >= 1"}
	}
	if cfg.MaxWorktreesPerEpic < 1 {
		return &errs.ConfigError{Key: "maxWorktreesPerEpic", Message: "must be >= 1"}
	}
	switch cfg.CostLimitAction {
	case "warn", "pause", "stop":
	default:
		return &errs.ConfigError{Key: "costLimit.action", Message: "must be warn, pause, or stop"}
	}
	for key, mode := range map[string]pipeline.Mode{
		"automation.ticketProgression": cfg.TicketProgression,
		"automation.review.mode":       cfg.ReviewMode,
		"automation.qa.mode":           cfg.QAMode,
	} {
		switch mode {
		case pipeline.ModeAutomatic, pipeline.ModeApproval, pipeline.ModeManual, pipeline.ModeSkip:
		default:
			return &errs.ConfigError{Key: key, Message: "must be automatic, approval, manual, or skip"}
		}
	}
	return nil
}

// Automation projects the pipeline-relevant fields out of Config.
func (c Config) Automation() pipeline.Automation {
	return pipeline.Automation{
		TicketProgression: c.TicketProgression,
		ReviewMode:        c.ReviewMode,
		QAMode:            c.QAMode,
	}
}
