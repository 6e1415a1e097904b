package main

import (
	"github.com/vigia-news/vigia/internal/server"
	"github.com/vigia-news/vigia/internal/util"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
