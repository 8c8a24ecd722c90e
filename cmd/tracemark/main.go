package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tracemark/internal"
	pkgconfig "github.com/starford/tracemark/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// withStack opens the ledger and artifact store for a one-shot command.
// Logs go to stderr so stdout carries only the command's JSON output.
func withStack(cmd *cli.Command, fn func(*internal.Stack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stack, err := internal.OpenStack(cfg, internal.NewLogger(os.Stderr, cfg.App.LogLevel), nil)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func register(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		id, err := s.Service.Register(ctx, cmd.String("name"), cmd.String("email"), cmd.String("phone"))
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"id": id})
	})
}

func issue(ctx context.Context, cmd *cli.Command) error {
	image := cmd.String("image")
	src, err := os.ReadFile(image)
	if err != nil {
		return fmt.Errorf("read source image: %w", err)
	}
	return withStack(cmd, func(s *internal.Stack) error {
		id, err := s.Service.Login(ctx, cmd.String("email"))
		if err != nil {
			return err
		}
		entries, err := s.Service.IssueBatch(ctx, id, src, filepath.Base(image), cmd.StringSlice("name"))
		if err != nil {
			return err
		}
		return printJSON(entries)
	})
}

func scan(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Service.ScanPath(ctx, cmd.String("image"))
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func list(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		id, err := s.Service.Login(ctx, cmd.String("email"))
		if err != nil {
			return err
		}
		entries, err := s.Service.ListIssuances(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(entries)
	})
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func emailFlag() cli.Flag {
	return &cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Registered contact email", Required: true}
}

func main() {
	cmd := &cli.Command{
		Name:  "tracemark",
		Usage: "Issue per-recipient watermarked images and attribute leaked copies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the leak inbox watcher",
				Action: serve,
			},
			{
				Name:  "register",
				Usage: "Register a recipient identity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name", Required: true},
					emailFlag(),
					&cli.StringFlag{Name: "phone", Usage: "Phone number"},
				},
				Action: register,
			},
			{
				Name:  "issue",
				Usage: "Issue one watermarked copy per connected name",
				Flags: []cli.Flag{
					emailFlag(),
					&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Source image path", Required: true},
					&cli.StringSliceFlag{Name: "name", Aliases: []string{"n"}, Usage: "Connected name (repeatable)", Required: true},
				},
				Action: issue,
			},
			{
				Name:  "scan",
				Usage: "Attribute a suspect image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Suspect image path", Required: true},
				},
				Action: scan,
			},
			{
				Name:   "list",
				Usage:  "List artifacts issued under an email",
				Flags:  []cli.Flag{emailFlag()},
				Action: list,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
