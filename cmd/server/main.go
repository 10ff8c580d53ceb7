// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatwithcode/internal/handler"
	"chatwithcode/pkg/log"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	red   = color.New(color.FgRed)
	green = color.New(color.FgGreen)
	cyan  = color.New(color.FgCyan)
)

func main() {
	var configPath, workspace string

	rootCmd := &cobra.Command{
		Use:           "chatwithcode",
		Short:         "Chat with the source code of a git repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "override workspace.name")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, workspace)
		},
	}

	processCmd := &cobra.Command{
		Use:   "process <url>",
		Short: "clone a repository and rebuild the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd.Context(), configPath, workspace)
			if err != nil {
				return err
			}
			defer app.Close()
			res, err := app.orchestrator.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = green.Printf("%s %d files, %d chunks in %s\n", res.Message, res.Files, res.Chunks, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "ask a question about the processed repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd.Context(), configPath, workspace)
			if err != nil {
				return err
			}
			defer app.Close()
			if _, err := app.orchestrator.Stream(cmd.Context(), strings.Join(args, " "), &stdoutWriter{}); err != nil {
				fmt.Println()
				return err
			}
			fmt.Println()
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, processCmd, askCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = red.Fprintf(os.Stderr, "Error: %v\n", err)
		log.Sync()
		os.Exit(1)
	}
	log.Sync()
}

func setup(ctx context.Context, configPath, workspace string) (*application, error) {
	cfg, err := loadConfig(configPath, workspace)
	if err != nil {
		return nil, err
	}
	return newApplication(ctx, cfg)
}

// stdoutWriter 把流式分块直接打印到终端。
type stdoutWriter struct{}

func (stdoutWriter) WriteMessage(_ int, data []byte) error {
	_, err := cyan.Print(string(data))
	return err
}

func runServer(configPath, workspace string) error {
	cfg, err := loadConfig(configPath, workspace)
	if err != nil {
		return err
	}
	log.Info("日志记录器初始化成功")

	app, err := newApplication(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	gin.SetMode(cfg.Server.Mode)
	r, err := handler.NewRouter(app.orchestrator, app.qaLogRepo, cfg.Metrics)
	if err != nil {
		return err
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-quit:
	}
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}
