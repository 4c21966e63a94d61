package main

import (
	"sync"

	"github.com/tidwall/redcon"

	"github.com/jls-format/jls-go/pkg/jls"
)

// App wraps the one ThreadedWriter this daemon owns, mirroring the
// teacher's cmd/server.App (one *barrel.Barrel wrapped per process).
// Every RESP connection is a producer like any other caller of
// pkg/jls — the daemon never reaches around the ThreadedWriter at the
// *jls.Writer underneath it, per spec.md §4.N/§5.
type App struct {
	tw *jls.ThreadedWriter
	lo jls.Logger

	mu      sync.Mutex
	signals map[uint16]jls.Signal
}

func main() {
	ko, err := loadConfig()
	if err != nil {
		panic(err)
	}
	lo := initLogger(ko)

	path := ko.String("file.path")
	if path == "" {
		path = "jlsd.jls"
	}
	ringCapacity := ko.Int("writer.ring_capacity")
	if ringCapacity <= 0 {
		ringCapacity = 1024
	}
	dropOnOverflow := ko.Bool("writer.drop_on_overflow")

	tw, err := jls.NewThreadedWriter(path, jls.Opts{
		Debug:  ko.Bool("app.debug"),
		Logger: lo,
	}, ringCapacity, dropOnOverflow)
	if err != nil {
		lo.Error("error opening jls file for writing", "path", path, "error", err)
		panic(err)
	}

	app := &App{tw: tw, lo: lo, signals: make(map[uint16]jls.Signal)}

	mux := redcon.NewServeMux()
	mux.HandleFunc("ping", app.ping)
	mux.HandleFunc("quit", app.quit)
	mux.HandleFunc("source", app.source)
	mux.HandleFunc("signal", app.signal)
	mux.HandleFunc("fsr", app.fsr)
	mux.HandleFunc("utc", app.utc)
	mux.HandleFunc("annotate", app.annotate)
	mux.HandleFunc("flush", app.flush)

	addr := ko.String("server.addr")
	if addr == "" {
		addr = ":6380"
	}

	lo.Info("starting jlsd", "addr", addr, "path", path)
	if err := redcon.ListenAndServe(addr,
		mux.ServeRESP,
		func(conn redcon.Conn) bool {
			return true
		},
		func(conn redcon.Conn, err error) {},
	); err != nil {
		lo.Error("error starting jlsd", "error", err)
		panic(err)
	}
}
