package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"promoshot/internal/cli"

	"github.com/sirupsen/logrus"
)

func main() {
	// 命令输出走 stdout，日志只在出错时打印到 stderr
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(logrus.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
