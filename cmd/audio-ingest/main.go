package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/voc/audio-ingest/config"
	"github.com/voc/audio-ingest/ingest"
	"github.com/voc/audio-ingest/metrics"
	"github.com/voc/audio-ingest/output"
	"github.com/voc/audio-ingest/session"
	"github.com/voc/audio-ingest/transcode"
	"github.com/voc/audio-ingest/util"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (.toml or .yml)")
	debug := flag.Bool("debug", false, "sets log level to debug")
	addr := flag.String("addr", "", "override listen address")
	root := flag.String("path", "", "override output root")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	conf, err := config.Parse(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}
	config.LoadEnv(&conf)
	if *addr != "" {
		conf.Server.Addr = *addr
	}
	if *root != "" {
		conf.Output.Root = *root
	}
	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	conf.ResolvePublicURL()

	logFile := setupLogging(conf.Log)
	if logFile != nil {
		defer logFile.Close()
	}
	log.Debug().Msgf("config: %+v", conf)

	binary, err := exec.LookPath(conf.Transcode.Binary)
	if err != nil {
		log.Fatal().Err(err).Str("binary", conf.Transcode.Binary).Msg("transcoder not found")
	}
	layout := output.Layout{
		Root:          conf.Output.Root,
		RecordingExt:  conf.Transcode.RecordingFormat,
		RelayTemplate: conf.Output.RelayURL,
	}
	if err := prepareOutput(layout); err != nil {
		log.Fatal().Err(err).Str("root", layout.Root).Msg("output root unusable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	util.HandleSignal(ctx, cancel, func() {
		if logFile != nil {
			logFile.Rotate()
		}
	})

	m := metrics.New()
	manager := session.New(ctx, session.Config{
		Layout: layout,
		Encoding: transcode.Encoding{
			AudioCodec:      conf.Transcode.AudioCodec,
			AudioBitrate:    conf.Transcode.AudioBitrate,
			SampleRate:      conf.Transcode.SampleRate,
			Channels:        conf.Transcode.Channels,
			SegmentDuration: conf.Transcode.SegmentDuration,
			PlaylistSize:    conf.Transcode.PlaylistSize,
			RecordingCodec:  conf.Transcode.RecordingCodec,
			RecordingFormat: conf.Transcode.RecordingFormat,
		},
		Launcher:      transcode.ExecLauncher{Binary: binary},
		FatalPatterns: conf.Transcode.FatalPatterns,
		KillTimeout:   conf.Transcode.KillTimeout,
		HighWaterMark: conf.Transcode.HighWaterMark,
		Retention:     conf.Output.Retention,
		Metrics:       m,
	})

	router := ingest.NewRouter(ingest.RouterConfig{
		Sessions:     manager,
		Layout:       layout,
		URLs:         ingest.URLs{Base: conf.Server.PublicURL, RecordingExt: conf.Transcode.RecordingFormat},
		MaxFrameSize: conf.Server.MaxFrameSize,
		Metrics:      m,
		AllowPull:    conf.Server.AllowPull,
	})
	server, err := ingest.NewServer(ctx, ingest.ServerConfig{
		Addr:            conf.Server.Addr,
		Handler:         router,
		ShutdownTimeout: conf.Server.ShutdownTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Str("public", conf.Server.PublicURL).Msgf("listening on %s", server.Addr())

	var group errgroup.Group
	group.Go(func() error {
		select {
		case <-ctx.Done():
		case err := <-server.Errors():
			log.Error().Err(err).Msg("server failed")
			cancel()
			return err
		}
		return nil
	})
	group.Go(func() error {
		return util.GracefulShutdown(ctx, func() {
			server.Wait()
			manager.Wait()
		}, conf.Server.ShutdownTimeout+conf.Transcode.KillTimeout)
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}
}

// setupLogging switches to json output if configured. A configured log
// file receives json lines in addition to stderr.
func setupLogging(conf config.LogConfig) *lumberjack.Logger {
	logger, file := newLogger(conf, os.Stderr)
	log.Logger = logger
	return file
}

func newLogger(conf config.LogConfig, stderr io.Writer) (zerolog.Logger, *lumberjack.Logger) {
	var out io.Writer = zerolog.ConsoleWriter{Out: stderr}
	if conf.JSON {
		out = stderr
	}
	var file *lumberjack.Logger
	if conf.File != "" {
		file = &lumberjack.Logger{
			Filename:   conf.File,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, file)
	}
	return zerolog.New(out).With().Timestamp().Logger(), file
}

// prepareOutput creates the output tree and checks that it is writable.
func prepareOutput(layout output.Layout) error {
	if err := layout.Init(); err != nil {
		return err
	}
	for _, dir := range []string{layout.HLSRoot(), layout.RecordingsRoot()} {
		f, err := os.CreateTemp(dir, ".writable-*")
		if err != nil {
			return errors.Wrapf(err, "%s not writable", dir)
		}
		f.Close()
		os.Remove(f.Name())
	}
	return nil
}
