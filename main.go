package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cppla/minblog/config"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/repository/gormstore"
	"github.com/cppla/minblog/repository/redisstore"
	"github.com/cppla/minblog/routes"
	"github.com/cppla/minblog/utils"
)

// backend bundles the selected store with its shutdown hook.
type backend struct {
	posts    repository.PostStore
	comments repository.CommentStore
	redis    *redisstore.Store
	close    func()
}

func main() {
	root := &cobra.Command{
		Use:           "minblog",
		Short:         "Minimal blog post API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Start the HTTP server (default)", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create or update the SQL schema", RunE: runMigrate},
		&cobra.Command{Use: "reindex", Short: "Rebuild the Redis list indexes", RunE: runReindex},
		newHashPasswordCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func boot() (config.AppConfig, error) {
	cfg := config.Load()
	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openBackend(cfg config.AppConfig) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendSQL:
		store := gormstore.New(config.InitDatabase())
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &backend{posts: store, comments: store, close: config.CloseDatabase}, nil
	case config.BackendRedis:
		rc := utils.GetRedis()
		if rc == nil {
			return nil, fmt.Errorf("redis backend selected but REDIS_HOST is empty")
		}
		store := redisstore.New(rc, cfg.RedisKeyPrefix)
		return &backend{posts: store, comments: store, redis: store, close: func() { _ = rc.Close() }}, nil
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := boot()
	if err != nil {
		return err
	}
	defer utils.Logger.Sync()

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}

	opts := []repository.Option{
		repository.WithExcerptLength(cfg.ExcerptLength),
		repository.WithDefaultCategory(cfg.DefaultCategory),
	}
	if cfg.PostCacheTTLSeconds > 0 {
		if rc := utils.GetRedis(); rc != nil {
			ttl := time.Duration(cfg.PostCacheTTLSeconds) * time.Second
			opts = append(opts, repository.WithCache(utils.NewRedisPostCache(rc, cfg.RedisKeyPrefix, ttl)))
		}
	}
	posts := repository.NewPostRepository(be.posts, opts...)
	comments := repository.NewCommentRepository(be.comments, nil)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if be.redis != nil && cfg.IndexRefreshSeconds > 0 {
		be.redis.StartIndexRefresher(ctx, time.Duration(cfg.IndexRefreshSeconds)*time.Second)
	}

	r := routes.SetupRouter(posts, comments)

	utils.Logger.Info("starting server",
		zap.String("port", cfg.AppPort), zap.String("backend", cfg.StorageBackend))
	// background writes finish before the store goes away
	return utils.GraceServer(":"+cfg.AppPort, r, cancel, posts.Wait, be.close)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := boot()
	if err != nil {
		return err
	}
	if cfg.StorageBackend != config.BackendSQL {
		utils.Logger.Info("nothing to migrate", zap.String("backend", cfg.StorageBackend))
		return nil
	}
	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.close()
	utils.Logger.Info("schema up to date")
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfg, err := boot()
	if err != nil {
		return err
	}
	if cfg.StorageBackend != config.BackendRedis {
		return fmt.Errorf("reindex needs STORAGE_BACKEND=redis, got %q", cfg.StorageBackend)
	}
	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	if err := be.redis.Rebuild(ctx); err != nil {
		return err
	}
	utils.Logger.Info("indexes rebuilt")
	return nil
}

// newHashPasswordCmd prints a bcrypt hash for ADMIN_PASS_HASH. The password is read
// from the first argument, or from the first line of stdin to keep it out of shell history.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASS_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := utils.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readPassword(in io.Reader, args []string) (string, error) {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}
