// Command drvis is the visibility-recorder daemon: it wires the ring
// fabric, a capture or offline producer, and every diagnostic/writer
// stage of spec.md §4 into one process, pinning each stage to its own
// OS thread per spec.md §5.
//
// Grounded on sakateka-yanet2/coordinator/cmd/coordinator/main.go's
// cobra.Command + zap + signal-driven shutdown shape, generalized from a
// single long-running service to this pipeline's many cooperating stages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peijin94/ovro-data-recorder/affinity"
	"github.com/peijin94/ovro-data-recorder/baseline"
	"github.com/peijin94/ovro-data-recorder/capture"
	"github.com/peijin94/ovro-data-recorder/command"
	"github.com/peijin94/ovro-data-recorder/config"
	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/imager"
	"github.com/peijin94/ovro-data-recorder/measurementset"
	"github.com/peijin94/ovro-data-recorder/monitor"
	"github.com/peijin94/ovro-data-recorder/offline"
	"github.com/peijin94/ovro-data-recorder/quota"
	"github.com/peijin94/ovro-data-recorder/recqueue"
	"github.com/peijin94/ovro-data-recorder/ring"
	"github.com/peijin94/ovro-data-recorder/spectra"
	"github.com/peijin94/ovro-data-recorder/station"
	"github.com/peijin94/ovro-data-recorder/stats"
	"github.com/peijin94/ovro-data-recorder/writer"
)

// joinDeadline bounds how long shutdown waits for every stage goroutine
// to drain before forcing the process to exit -- the bounded-join-then-
// forced-exit resolution of spec.md §9's "literal kill -9" Open Question
// (see DESIGN.md).
const joinDeadline = 10 * time.Second

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "drvis",
	Short: "Radio-interferometer visibility data recorder",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cfg)
	},
}

func init() {
	cfg.Flags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "drvis: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if cfg.Fork {
		if err := daemonize(cfg.LogFile); err != nil {
			return fmt.Errorf("drvis: daemonize: %w", err)
		}
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("drvis: building logger: %w", err)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.RecordDirectory, 0o755); err != nil {
		return fmt.Errorf("drvis: creating record directory: %w", err)
	}

	mcsID := config.MCSIdentifier(cfg.Quick, cfg.Address, cfg.Port)
	log.Infow("starting drvis", "mcs_id", mcsID, "offline", cfg.Offline, "record_directory", cfg.RecordDirectory)

	st := station.Test()
	nstand := st.NStand()

	r := ring.New("visibilities")
	mon := monitor.NewInProcess()
	fill := capture.NewFillQueue()
	queue := recqueue.New()

	shutdown := make(chan struct{})
	onSignal(shutdown, log)

	var wg sync.WaitGroup
	group, ctx := errgroup.WithContext(context.Background())

	runStage := func(name string, core int, fn func() error) {
		wg.Add(1)
		group.Go(func() error {
			defer wg.Done()
			affinity.Pin(core, log.Named(name))
			if err := fn(); err != nil {
				log.Errorw("stage exited with error", "stage", name, "error", err)
				return err
			}
			log.Infow("stage exited cleanly", "stage", name)
			return nil
		})
	}

	core := func(i int) int {
		if i < len(cfg.Cores) {
			return cfg.Cores[i]
		}
		return -1
	}

	if cfg.Offline {
		producer := &offline.Producer{
			Config: offline.Config{
				NTimeGulp: cfg.GulpSize,
				NStand:    nstand,
				Chan0:     1520,
				NChan:     192,
				NAvg:      24,
				Fast:      cfg.Quick,
				RealTime:  true,
			},
			Ring:     r,
			Log:      log.Named("offline"),
			Shutdown: shutdown,
		}
		runStage("offline", core(0), producer.Run)
	} else {
		source, err := capture.ListenUDP(cfg.Address, cfg.Port)
		if err != nil {
			return fmt.Errorf("drvis: listening for correlator packets: %w", err)
		}
		producer := &capture.Producer{
			Source:   source,
			Stats:    capture.ConnRxStatsSource{Source: source},
			Ring:     r,
			Fill:     fill,
			Config:   capture.Config{NTimeGulp: cfg.GulpSize, NBl: gulp.NumBaselines(nstand), Fast: cfg.Quick},
			Log:      log.Named("capture"),
			Shutdown: shutdown,
		}
		runStage("capture", core(0), producer.Run)
	}

	writerStage := &writer.Stage{
		Ring:    r,
		Queue:   queue,
		Fill:    fill,
		Monitor: mon,
		Config:  writer.Config{StationID: mcsID, Fast: cfg.Quick, Guarantee: false},
		Log:     log.Named("writer"),
	}
	runStage("writer", core(1), writerStage.Run)

	statsStage := &stats.Stage{Ring: r, Monitor: mon, Log: log.Named("statistics")}
	runStage("statistics", core(2), statsStage.Run)

	spectraStage := &spectra.Stage{Ring: r, Monitor: mon, Log: log.Named("spectra")}
	runStage("spectra", core(7), spectraStage.Run)

	baselineStage := &baseline.Stage{
		Ring:    r,
		Monitor: mon,
		Config:  baseline.Config{Station: st},
		Log:     log.Named("baseline"),
	}
	runStage("baseline", core(3), baselineStage.Run)

	if cfg.Image {
		var cal *imager.Cache
		if cfg.CalDir != "" {
			cal = imager.NewCache(cfg.CalDir, nil)
			cal.Log = log.Named("imager")
		}
		imagerStage := &imager.Stage{
			Ring:    r,
			Monitor: mon,
			Config:  imager.Config{Station: st, Cal: cal},
			Log:     log.Named("imager"),
		}
		runStage("imager", core(4), imagerStage.Run)
	}

	quotaManager := &quota.Manager{
		Config: quota.Config{Dir: cfg.RecordDirectory, QuotaBytes: quotaBytes(cfg, log)},
		Active: func() (string, bool) {
			if op := queue.Active(); op != nil {
				return filepath.Join(cfg.RecordDirectory, op.ID), true
			}
			return "", false
		},
		Log:  log.Named("quota"),
		Done: shutdown,
	}
	runStage("quota", core(5), quotaManager.Run)

	processor := &command.Processor{
		Queue: queue,
		WriterFactory: func(id string) recqueue.Writer {
			w, err := measurementset.NewDefaultWriter(cfg.RecordDirectory+"/"+id, cfg.NIntPerFile, !cfg.NoTar)
			if err != nil {
				log.Errorw("failed to create measurement-set writer", "id", id, "error", err)
				return nil
			}
			return w
		},
		Log: log.Named("command"),
	}
	transport := &command.TCPTransport{Addr: fmt.Sprintf("%s:%d", cfg.Address, cfg.Port+1), Log: log.Named("command")}
	runStage("command", core(6), func() error { return processor.Run(transport) })

	select {
	case <-ctx.Done():
	case <-shutdown:
	}

	if err := r.Close(); err != nil {
		log.Errorw("failed to close ring", "error", err)
	}

	if !waitWithDeadline(&wg, joinDeadline) {
		log.Warnw("stages did not drain within deadline, forcing exit", "deadline", joinDeadline)
		os.Exit(0)
	}

	return group.Wait()
}

// onSignal closes shutdown on SIGINT/SIGTERM, the single shared shutdown
// event of spec.md §5's cancellation model.
func onSignal(shutdown chan struct{}, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received shutdown signal", "signal", sig)
		close(shutdown)
	}()
}

// waitWithDeadline waits for wg to finish, or returns false once deadline
// elapses -- the bounded-join half of the kill-9 replacement.
func waitWithDeadline(wg *sync.WaitGroup, deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}

func buildLogger(cfg config.Config) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogFile != "" {
		zcfg.OutputPaths = []string{cfg.LogFile}
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// quotaBytes derives a byte budget from the quota string; spec.md §4.9
// allows either a byte or a time-span quota, and the CLI surface only
// exposes the time-span form, so this treats the parsed duration as a
// placeholder share of disk (1 GiB per quota-hour) until a real
// bytes-per-second recording rate is wired in from the writer.
func quotaBytes(cfg config.Config, log *zap.SugaredLogger) int64 {
	d, err := cfg.QuotaDuration()
	if err != nil {
		log.Warnw("invalid record-directory-quota, disabling quota eviction", "error", err)
		return 1<<63 - 1
	}
	if d <= 0 {
		return 1<<63 - 1
	}
	const bytesPerHour = 1 << 30
	return int64(d.Hours() * bytesPerHour)
}

// daemonize re-execs the current process detached from its controlling
// terminal, redirecting stdio, the double-fork substitute the `--fork`
// flag requests. It uses os.StartProcess + Setsid rather than a raw
// syscall.ForkExec, since re-executing argv[0] is the portable
// equivalent in a language without a direct fork() primitive.
func daemonize(logPath string) error {
	if os.Getenv("DRVIS_DAEMONIZED") == "1" {
		return nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	stderr := devNull
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			stderr = f
		}
	}

	argv0, err := os.Executable()
	if err != nil {
		return err
	}

	attr := &os.ProcAttr{
		Files: []*os.File{devNull, devNull, stderr},
		Env:   append(os.Environ(), "DRVIS_DAEMONIZED=1"),
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(argv0, os.Args, attr)
	if err != nil {
		return err
	}
	_ = proc.Release()
	os.Exit(0)
	return nil
}
