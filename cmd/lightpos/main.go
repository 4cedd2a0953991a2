package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/lightpos/internal/api"
	"github.com/banshee-data/lightpos/internal/config"
	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/framemux"
	"github.com/banshee-data/lightpos/internal/health"
	"github.com/banshee-data/lightpos/internal/network"
	"github.com/banshee-data/lightpos/internal/pipeline"
	"github.com/banshee-data/lightpos/internal/version"
)

var (
	devMode           = flag.Bool("dev", false, "Run in dev mode with a synthetic frame source (overrides --source)")
	listen            = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen        = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty to disable)")
	source            = flag.String("source", sourceSerial, "Frame source: serial, file, udp, pcap or synthetic")
	port              = flag.String("port", "/dev/ttyUSB0", "Serial port to use (source=serial)")
	baudRate          = flag.Int("baud", framemux.DefaultBaudRate, "Serial baud rate (source=serial)")
	serialFormat      = flag.String("serial-format", framemux.DefaultFrameFormat, "Serial data bits, parity and stop bits (source=serial)")
	replayFile        = flag.String("replay-file", "", "Delimited frame stream to replay (source=file)")
	udpAddress        = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	udpPort           = flag.Int("udp-port", network.DefaultUDPPort, "UDP port for frame datagrams (source=udp, pcap filter)")
	rcvBuf            = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	pcapFile          = flag.String("pcap", "", "PCAP capture to replay (source=pcap)")
	pcapRealtime      = flag.Bool("pcap-realtime", false, "Replay the capture at its recorded pace")
	syntheticInterval = flag.Duration("synthetic-interval", 100*time.Millisecond, "Time between synthetic frames")
	dbFile            = flag.String("db", "lightpos.db", "Path to the SQLite database file")
	configFile        = flag.String("config", config.DefaultConfigPath, "Path to the JSON tuning defaults")
	showVersion       = flag.Bool("version", false, "Print the version and exit")
)

// options is the resolved command line.
type options struct {
	source            string
	port              string
	baudRate          int
	serialFormat      string
	replayFile        string
	udpAddress        string
	udpPort           int
	rcvBuf            int
	pcapFile          string
	pcapRealtime      bool
	syntheticInterval time.Duration
	listen            string
	grpcListen        string
	dbFile            string
	configFile        string

	// filled from the config file
	maxFrameBytes int
	statsInterval time.Duration
}

func optionsFromFlags() *options {
	opts := &options{
		source:            *source,
		port:              *port,
		baudRate:          *baudRate,
		serialFormat:      *serialFormat,
		replayFile:        *replayFile,
		udpAddress:        *udpAddress,
		udpPort:           *udpPort,
		rcvBuf:            *rcvBuf,
		pcapFile:          *pcapFile,
		pcapRealtime:      *pcapRealtime,
		syntheticInterval: *syntheticInterval,
		listen:            *listen,
		grpcListen:        *grpcListen,
		dbFile:            *dbFile,
		configFile:        *configFile,
	}
	if *devMode {
		opts.source = sourceSynthetic
	}
	return opts
}

// loadConfig reads the tuning file. A missing file at the default path is
// not an error; the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.EmptyConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
			log.Printf("config %s not found, using built-in defaults", path)
			return config.EmptyConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	opts := optionsFromFlags()
	if opts.listen == "" {
		log.Fatal("Listen address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("lightpos: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// run wires the source, pipeline, sinks and servers and blocks until ctx is
// cancelled or the source is exhausted.
func run(parent context.Context, opts *options) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.maxFrameBytes = cfg.GetMaxFrameBytes()
	opts.statsInterval = cfg.GetStatsLogInterval()

	params, err := config.NewParamStore(cfg.Params())
	if err != nil {
		return fmt.Errorf("invalid processing parameters: %w", err)
	}

	src, err := openSource(opts)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	defer func() {
		if err := src.close(); err != nil {
			log.Printf("failed to close frame source %s: %v", src.name, err)
		}
	}()
	log.Printf("initialized frame source %s", src.name)

	database, err := db.NewDB(opts.dbFile)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	latest := &pipeline.Latest{}
	proc := pipeline.NewProcessor(pipeline.Config{
		Params:      params,
		Sinks:       []pipeline.Sink{latest, pipeline.CentroidStoreSink{Store: database}},
		Window:      cfg.GetCentroidWindow(),
		LogInterval: opts.statsInterval,
	})
	runID := proc.RunID()
	if err := database.StartRun(runID, src.name, params.Snapshot(), time.Now()); err != nil {
		return err
	}
	defer func() {
		processed := int64(proc.Stats().Summary().Processed)
		if err := database.StopRun(runID, processed, time.Now()); err != nil {
			log.Printf("failed to close run %s: %v", runID, err)
		}
	}()

	if src.publisher != nil {
		proc.AddSink(pipeline.PublisherSink{Publisher: src.publisher, Thresholded: cfg.GetPublishThresholded()})
	}

	var healthServer *health.Server
	if opts.grpcListen != "" {
		healthServer = health.NewServer()
		proc.AddSink(healthServer)
	}

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.listen, err)
	}

	// The pipeline cancels ctx when the source is exhausted so the servers
	// stop as well.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Create a wait group for the source, pipeline and server routines
	var wg sync.WaitGroup
	errc := make(chan error, 4)

	// run the source routine to produce frames
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.run(ctx); err != nil && !isShutdown(err) {
			errc <- fmt.Errorf("frame source: %w", err)
		}
		log.Print("source routine terminated")
	}()

	// process frames until the source closes its channel
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := proc.Run(ctx, src.frames); err != nil && !isShutdown(err) {
			errc <- fmt.Errorf("pipeline: %w", err)
		}
		log.Print("pipeline routine terminated")
	}()

	if healthServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				healthServer.Shutdown()
			}()
			if err := healthServer.ListenAndServe(opts.grpcListen); err != nil {
				errc <- err
				cancel()
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(latest, proc.Stats(), params, database, runID)
		if src.stats != nil {
			apiServer.SetSourceStats(src.stats)
		}
		mux := apiServer.ServeMux()
		if src.attach != nil {
			src.attach(mux)
		}
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", ln.Addr())
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				errc <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	close(errc)
	return <-errc
}
