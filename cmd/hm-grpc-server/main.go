package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/observe-l/hmcal/internal/config"
	"github.com/observe-l/hmcal/internal/logging"
	"github.com/observe-l/hmcal/internal/rpc"
	"github.com/observe-l/hmcal/internal/wavecodec"
)

func main() {
	fs := flag.NewFlagSet("hm-grpc-server", flag.ExitOnError)
	config.RegisterFlags(fs)
	addr := fs.String("addr", ":50051", "listen address")
	histPath := fs.String("history", "", "history file (default <out>/history.json)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, "")
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fatalf("%v", err)
	}
	defer func() { _ = log.Sync() }()
	if *histPath == "" {
		*histPath = filepath.Join(cfg.Out, "history.json")
	}

	h, err := wavecodec.Load(*histPath)
	if err != nil {
		fatalf("load %s: %v", *histPath, err)
	}
	srv := rpc.NewHistoryServer(h, cfg.Rule(), log.Named("rpc"))

	// SIGHUP reloads the history file, e.g. after another wave was written.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			h, err := wavecodec.Load(*histPath)
			if err != nil {
				log.Error("reload", zap.String("path", *histPath), zap.Error(err))
				continue
			}
			srv.Swap(h)
		}
	}()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fatalf("listen: %v", err)
	}
	g := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(log)))
	rpc.Register(g, srv)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-stop; g.GracefulStop() }()

	log.Info("history service listening", zap.String("addr", ln.Addr().String()), zap.Int("waves", len(h)))
	if err := g.Serve(ln); err != nil {
		fatalf("grpc serve: %v", err)
	}
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
