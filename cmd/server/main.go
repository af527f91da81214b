package main

import (
	"github.com/OFFIS-RIT/chronicle/internal/server"
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
