// Estimator CLI - runs the estimator operations without a Zeebe broker.
//
// Usage:
//
//	estimator-cli feasibility --type Residential --location "Austin, TX" ...
//	estimator-cli estimate --type Residential --location "Austin, TX" ... [--redis-addr localhost:6379]
//	estimator-cli chat --message "How long does a slab cure?" [--history history.json]
//	estimator-cli edit-image --image site.png --instruction "remove scaffolding"
//	estimator-cli activities [--out activity-registry.json]
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"construction-estimator/internal/common/config"
	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/models"
	ac "construction-estimator/internal/workers/assistant/chat"
	ei "construction-estimator/internal/workers/assistant/edit-image"
	cf "construction-estimator/internal/workers/estimation/check-feasibility"
	ge "construction-estimator/internal/workers/estimation/generate-estimate"
	"construction-estimator/pkg/registry"
)

var (
	version = "dev"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "estimator-cli",
		Usage:   "Construction feasibility checks, estimates and assistant chat from the terminal",
		Version: version,
		Writer:  out,

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a config.yaml; its genai section is used unless overridden by flags",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "GenAI API key",
				EnvVars: []string{"GENAI_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Chat completions endpoint",
				EnvVars: []string{"GENAI_BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "model",
				Usage:   "Model identifier",
				EnvVars: []string{"GENAI_MODEL"},
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Value: -1,
				Usage: "Rate-limit retries (negative keeps the configured value)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"ESTIMATOR_LOG_LEVEL"},
			},
		},

		Commands: []*cli.Command{
			feasibilityCommand(),
			estimateCommand(),
			chatCommand(),
			editImageCommand(),
			activitiesCommand(),
		},
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

func projectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Project type", Required: true},
		&cli.StringFlag{Name: "location", Aliases: []string{"l"}, Usage: "Project location", Required: true},
		&cli.Float64Flag{Name: "size", Usage: "Built area", Required: true},
		&cli.StringFlag{Name: "size-unit", Value: "sqft", Usage: "Area unit (sqft, sqm)"},
		&cli.StringFlag{Name: "budget", Usage: "Budget amount", Required: true},
		&cli.StringFlag{Name: "quality", Value: "Standard", Usage: "Quality tier"},
		&cli.IntFlag{Name: "timeline", Usage: "Timeline in months", Required: true},
		&cli.IntFlag{Name: "manpower", Usage: "Crew size", Required: true},
	}
}

func projectInputs(c *cli.Context) (models.ProjectInputs, error) {
	budget, err := decimal.NewFromString(c.String("budget"))
	if err != nil {
		return models.ProjectInputs{}, fmt.Errorf("invalid --budget %q: %w", c.String("budget"), err)
	}
	if c.Int("timeline") < 1 {
		return models.ProjectInputs{}, fmt.Errorf("--timeline must be at least 1 month")
	}
	return models.ProjectInputs{
		ProjectType:    c.String("type"),
		Location:       c.String("location"),
		Size:           c.Float64("size"),
		SizeUnit:       c.String("size-unit"),
		Budget:         budget,
		QualityTier:    c.String("quality"),
		TimelineMonths: c.Int("timeline"),
		Manpower:       c.Int("manpower"),
	}, nil
}

func newLogger(c *cli.Context) logger.Logger {
	return logger.NewStructured(c.String("log-level"), "console", "stderr")
}

func genaiConfig(c *cli.Context) (genai.Config, error) {
	cfg := genai.DefaultConfig()
	if path := c.String("config"); path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return genai.Config{}, err
		}
		cfg = fileCfg.GenAI.ClientConfig()
	}
	if v := c.String("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v := c.String("base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := c.String("model"); v != "" {
		cfg.Model = v
	}
	if v := c.Int("max-retries"); v >= 0 {
		if v > config.MaxGenAIRetries {
			return genai.Config{}, fmt.Errorf("--max-retries must be at most %d", config.MaxGenAIRetries)
		}
		cfg.MaxRetries = v
	}
	return cfg, nil
}

func newGenAIClient(c *cli.Context, log logger.Logger) (*genai.Client, error) {
	cfg, err := genaiConfig(c)
	if err != nil {
		return nil, err
	}
	return genai.NewClient(cfg, log), nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// FEASIBILITY COMMAND
// =============================================================================

func feasibilityCommand() *cli.Command {
	return &cli.Command{
		Name:   "feasibility",
		Usage:  "Check whether budget, timeline and crew are realistic",
		Flags:  projectFlags(),
		Action: runFeasibility,
	}
}

func runFeasibility(c *cli.Context) error {
	inputs, err := projectInputs(c)
	if err != nil {
		return err
	}
	log := newLogger(c)
	client, err := newGenAIClient(c, log)
	if err != nil {
		return err
	}

	handler := cf.NewHandler(cf.LoadConfig(), client, log)
	ctx, cancel := context.WithTimeout(c.Context, cf.LoadConfig().Timeout)
	defer cancel()

	output, err := handler.Execute(ctx, &cf.Input{ProjectInputs: inputs})
	if err != nil {
		return err
	}
	return printJSON(c, output)
}

// =============================================================================
// ESTIMATE COMMAND
// =============================================================================

func estimateCommand() *cli.Command {
	flags := append(projectFlags(),
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the estimate cache (disabled when empty)",
			EnvVars: []string{"REDIS_ADDRESS"},
		},
		&cli.DurationFlag{
			Name:  "cache-ttl",
			Value: 24 * time.Hour,
			Usage: "Estimate cache TTL",
		},
	)
	return &cli.Command{
		Name:   "estimate",
		Usage:  "Generate a cost, cashflow and risk estimate",
		Flags:  flags,
		Action: runEstimate,
	}
}

func runEstimate(c *cli.Context) error {
	inputs, err := projectInputs(c)
	if err != nil {
		return err
	}
	log := newLogger(c)
	client, err := newGenAIClient(c, log)
	if err != nil {
		return err
	}

	cfg := ge.LoadConfig()
	cfg.Model = client.Model()
	cfg.CacheTTL = c.Duration("cache-ttl")
	opts := ge.HandlerOptions{Config: cfg, GenAI: client, Logger: log}

	if addr := c.String("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		opts.Redis = rdb
	} else {
		cfg.CacheEnabled = false
	}

	handler, err := ge.NewHandler(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.Timeout)
	defer cancel()

	output, err := handler.Execute(ctx, &ge.Input{ProjectInputs: inputs})
	if err != nil {
		return err
	}
	return printJSON(c, output)
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Send one message to the construction assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message to send", Required: true},
			&cli.StringFlag{Name: "history", Usage: "JSON file with prior turns ([{\"role\":\"user|model\",\"text\":\"...\"}])"},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	var history []models.ChatMessage
	if path := c.String("history"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if err := json.Unmarshal(raw, &history); err != nil {
			return fmt.Errorf("parse history: %w", err)
		}
	}

	log := newLogger(c)
	client, err := newGenAIClient(c, log)
	if err != nil {
		return err
	}

	handler := ac.NewHandler(ac.LoadConfig(), client, log)
	ctx, cancel := context.WithTimeout(c.Context, ac.LoadConfig().Timeout)
	defer cancel()

	output, err := handler.Execute(ctx, &ac.Input{History: history, Message: c.String("message")})
	if err != nil {
		return err
	}
	return printJSON(c, output)
}

// =============================================================================
// EDIT-IMAGE COMMAND
// =============================================================================

func editImageCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit-image",
		Usage: "Request an edit of a site photo (currently always unavailable)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "Path to the image file"},
			&cli.StringFlag{Name: "mime-type", Value: "image/png", Usage: "Image MIME type"},
			&cli.StringFlag{Name: "instruction", Usage: "Edit instruction"},
		},
		Action: runEditImage,
	}
}

func runEditImage(c *cli.Context) error {
	input := &ei.Input{
		MimeType:    c.String("mime-type"),
		Instruction: c.String("instruction"),
	}
	if path := c.String("image"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		input.Image = base64.StdEncoding.EncodeToString(raw)
	}

	handler := ei.NewHandler(ei.LoadConfig(), newLogger(c))
	output, err := handler.Execute(c.Context, input)
	if err != nil {
		return err
	}
	return printJSON(c, output)
}

// =============================================================================
// ACTIVITIES COMMAND
// =============================================================================

func activitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "activities",
		Usage: "Print the catalogue of task types served by the worker manager",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the registry JSON to this file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			reg := registry.Default()
			if path := c.String("out"); path != "" {
				if err := reg.Save(path); err != nil {
					return fmt.Errorf("write registry: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "wrote %d activities to %s\n", len(reg.Activities), path)
				return nil
			}
			return printJSON(c, reg)
		},
	}
}
