package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/fgprof"

	"github.com/talostrading/objsrv"
	"github.com/talostrading/objsrv/objopts"
	"github.com/talostrading/objsrv/protocol"
	"github.com/talostrading/objsrv/util"
)

var (
	socket        = flag.String("socket", objsrv.DefaultSocketPath(), "path of the server socket")
	debug         = flag.Bool("debug", false, "trace every request and reply")
	pprof         = flag.String("pprof", "", "serve a wall-clock profile at http://<addr>/debug/fgprof")
	constraint    = flag.String("version-constraint", objsrv.DefaultVersionConstraint, "client protocol versions accepted")
	retainTermios = flag.Bool("retain-termios", false, "keep raw line settings when a device is closed")
	watchDevices  = flag.Bool("watch-devices", true, "fail pending I/O on devices that disappear")
	statsInterval = flag.Duration("stats-interval", 0, "report request latencies periodically, 0 disables")
	cpu           = flag.Int("cpu", -1, "pin the event loop to this cpu, -1 disables")
	version       = flag.Bool("version", false, "print the protocol version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println(protocol.Version)
		return
	}

	logger := log.New(os.Stderr, "objsrv: ", log.LstdFlags|log.Lmicroseconds)

	if *pprof != "" {
		http.Handle("/debug/fgprof", fgprof.Handler())
		go func() {
			logger.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	srv, err := objsrv.NewServer(
		objopts.SocketPath(*socket),
		objopts.Logger(logger),
		objopts.Debug(*debug),
		objopts.VersionConstraint(*constraint),
		objopts.RetainTermios(*retainTermios),
		objopts.WatchDevices(*watchDevices),
		objopts.StatsWriter(os.Stderr),
	)
	if err != nil {
		logger.Fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGUSR1 {
				_ = srv.ReportStats()
				continue
			}
			logger.Printf("%s, shutting down", sig)
			srv.Shutdown()
			return
		}
	}()

	if *statsInterval > 0 {
		go func() {
			t := time.NewTicker(*statsInterval)
			defer t.Stop()
			for range t.C {
				if err := srv.ReportStats(); err != nil {
					return
				}
			}
		}()
	}

	if *cpu >= 0 {
		if err := util.PinThread(*cpu); err != nil {
			logger.Fatal(err)
		}
	}

	logger.Printf("serving protocol %s on %s", protocol.Version, srv.Path())
	if err := srv.Run(); err != nil {
		logger.Printf("loop: %v", err)
	}
	if err := srv.Close(); err != nil {
		logger.Printf("close: %v", err)
	}
}
