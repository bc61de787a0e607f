package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cdrengine/internal/ami"
	"cdrengine/internal/bus"
	"cdrengine/internal/cdr"
	"cdrengine/internal/config"
	"cdrengine/internal/database"
	"cdrengine/internal/opsapi"
	"cdrengine/internal/sink"
	"cdrengine/internal/sysadmin"
	ws "cdrengine/internal/websocket"
)

const defaultConfigPath = "/etc/cdrengine/cdrengine.yaml"

func main() {
	configPath := os.Getenv("CDRENGINE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed loading configuration")
	}

	logger := newLogger(cfg.Log)
	logger.Info().Str("os_family", sysadmin.DetectOS().String()).Msg("cdrengine starting")

	dbConn, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed connecting to database")
	}
	defer dbConn.Close()

	engine := cdr.NewEngine(cdr.ConfigFromFields(
		cfg.CDR.Enable, cfg.CDR.Debug, cfg.CDR.Unanswered, cfg.CDR.Congestion,
		cfg.CDR.EndBeforeHExten, cfg.CDR.InitiatedSeconds, cfg.CDR.Batch,
		cfg.CDR.Size, cfg.CDR.Time, cfg.CDR.SchedulerOnly, cfg.CDR.SafeShutdown,
	), logger)

	mysqlSink := sink.NewMySQLSink(dbConn.DB, logger)
	engine.RegisterBackend(mysqlSink)

	if cfg.CDR.LinePath != "" {
		lineSink, lineFile, err := newLineSink(cfg.CDR.LinePath, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CDR.LinePath).Msg("failed opening line sink")
		}
		if lineFile != nil {
			defer lineFile.Close()
		}
		engine.RegisterBackend(lineSink)
	}

	ws.Init()
	ops := opsapi.New(engine, ws.GlobalHub, logger)
	go func() {
		if err := ops.ListenAndServe(cfg.OpsAPI.Address()); err != nil {
			logger.Error().Err(err).Msg("operator surface stopped")
		}
	}()

	amiClient := ami.NewClient(&cfg.AMI)
	source := bus.New(amiClient, engine, cfg.Asterisk, logger)
	go func() {
		if err := source.Run(); err != nil {
			logger.Error().Err(err).Msg("event source stopped")
		}
	}()

	logger.Info().Str("opsapi", cfg.OpsAPI.Address()).Msg("cdrengine ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("cdrengine shutting down")
	engine.Shutdown()
}

// newLineSink opens the C9 line sink target named by path. "-" writes to
// stdout (no file returned to close); anything else is an append-only file
// the caller owns and must close.
func newLineSink(path string, logger zerolog.Logger) (*sink.LineSink, *os.File, error) {
	if path == "-" {
		return sink.NewLineSink(os.Stdout, logger), nil, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return sink.NewLineSink(f, logger), f, nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
