package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"talon/internal/config"
	"talon/internal/item"
	"talon/internal/logging"
	"talon/internal/metrics"
	"talon/internal/router"
	"talon/internal/scrape"
	"talon/internal/store"
	"talon/internal/stream"
	"talon/internal/theme"
	"talon/internal/twapi"
	"talon/internal/worker"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "enqueue":
		cmdEnqueue()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: talon <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init      Create a config file at ./talon.yaml")
	fmt.Println("  run       Run the router and supervisor processes")
	fmt.Println("  enqueue   Push a work item or control signal onto the work stream")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./talon.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./talon.yaml", "config path")
	proc := fs.String("proc", "", "run only this supervisor process (default: router plus every process)")
	level := fs.String("log-level", "info", "log level")
	_ = fs.Parse(os.Args[2:])

	logging.Setup(*level)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	theme.PrintBanner()
	metrics.StartServer(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *proc); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, only string) error {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	conn := stream.Dial(cfg.Redis.Addr, cfg.Redis.DB)
	defer conn.Close()

	in, err := conn.Stream(ctx, cfg.Redis.WorkStream, cfg.Redis.Group, "router")
	if err != nil {
		return err
	}
	if n, err := in.FlushPending(ctx, 10*time.Minute); err != nil {
		return err
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("flushed stale work stream entries")
	}

	runRouter := only == ""
	var hosted []config.ProcessConfig
	for _, p := range cfg.Processes {
		if only == "" || p.Name == only {
			hosted = append(hosted, p)
		}
	}
	if len(hosted) == 0 && !runRouter {
		return fmt.Errorf("unknown process %q", only)
	}

	g, ctx := errgroup.WithContext(ctx)

	if runRouter {
		dests := make(map[string]*stream.Stream, len(cfg.Processes))
		for _, p := range cfg.Processes {
			ps, err := conn.Stream(ctx, cfg.ProcessStream(p.Name), cfg.Redis.Group, "router")
			if err != nil {
				return err
			}
			dests[p.Name] = ps
		}
		keys := make([]string, 0, len(cfg.Accounts))
		for k := range cfg.Accounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rt, err := router.New(in, dests, keys, cfg.AccountProcess())
		if err != nil {
			return err
		}
		g.Go(func() error { return rt.Run(ctx) })
	}

	for _, p := range hosted {
		src, err := conn.Stream(ctx, cfg.ProcessStream(p.Name), cfg.Redis.Group, p.Name)
		if err != nil {
			return err
		}
		if n, err := src.FlushPending(ctx, 10*time.Minute); err != nil {
			return err
		} else if n > 0 {
			log.Warn().Str("proc", p.Name).Int("count", n).Msg("flushed stale process stream entries")
		}

		deps := make(map[string]*scrape.Deps, len(p.AccountKeys))
		for _, key := range p.AccountKeys {
			d := &scrape.Deps{
				Store:   st,
				Session: twapi.NewSession(cfg.Accounts[key]),
				Enqueue: func(ctx context.Context, fields map[string]any) error {
					return in.Add(ctx, fields)
				},
			}
			if cfg.ControlPlane.MergeURL != "" {
				d.Merge = scrape.NewMergeClient(cfg.ControlPlane.MergeURL)
			}
			deps[key] = d
		}
		sup := worker.NewSupervisor(p.Name, src, deps)
		g.Go(func() error { return sup.Run(ctx) })
		log.Info().Str("proc", p.Name).Int("accounts", len(p.AccountKeys)).Msg("supervisor started")
	}

	return g.Wait()
}

func cmdEnqueue() {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	cfgPath := fs.String("config", "./talon.yaml", "config path")
	workType := fs.String("work-type", "", "user_info|user_timeline|user_likes|friend_ids|follower_ids|conversation_tweets")
	userID := fs.String("user-id", "", "platform user id")
	screenName := fs.String("screen-name", "", "screen name")
	objID := fs.Int64("obj-id", 0, "profile row id")
	conversationID := fs.String("conversation-id", "", "conversation id")
	priority := fs.Int("priority", 2, "priority 1-3")
	flushGroup := fs.Bool("flush", false, "broadcast a flush_group control signal")
	exit := fs.Bool("exit", false, "broadcast an exit control signal")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	ctx := context.Background()
	conn := stream.Dial(cfg.Redis.Addr, cfg.Redis.DB)
	defer conn.Close()
	in, err := conn.Stream(ctx, cfg.Redis.WorkStream, cfg.Redis.Group, "cli")
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	fields := map[string]any{}
	switch {
	case *flushGroup || *exit:
		fields["flush_group"] = *flushGroup
		fields["exit"] = *exit
		if *workType != "" {
			fields["work_type"] = *workType
		}
	default:
		if !item.IsWorkType(*workType) {
			fmt.Println("error: invalid -work-type")
			os.Exit(1)
		}
		fields["work_type"] = *workType
		fields["priority"] = *priority
		if *userID != "" {
			fields["user_id"] = *userID
		}
		if *screenName != "" {
			fields["screen_name"] = *screenName
		}
		if *objID != 0 {
			fields["obj_id"] = *objID
		}
		if *conversationID != "" {
			fields["conversation_id"] = *conversationID
		}
	}
	if err := in.Add(ctx, fields); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Println("enqueued")
}
