package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/UNIZAR-30226-2021-07/backend-sub000/pkg/server"
)

type originList []string

func (o *originList) String() string     { return fmt.Sprint([]string(*o)) }
func (o *originList) Set(v string) error { *o = append(*o, v); return nil }

func main() {
	var (
		dbPath     string
		host       string
		port       int
		portFile   string
		seed       int64
		debugLevel string
		origins    originList
	)
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	flag.IntVar(&port, "port", 0, "Port to listen on (0 for random free port)")
	flag.StringVar(&portFile, "portfile", "", "If set, write selected port to this file")
	flag.Int64Var(&seed, "seed", 0, "Deterministic RNG seed for codes and decks (0 = random)")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Var(&origins, "origin", "Allowed websocket Origin (repeatable; none allows all)")
	flag.Parse()

	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "gatovid.sqlite")
	}

	db, err := server.NewDatabase(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	logBackend, _ := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel})

	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	}

	mgr := server.NewMatchManager(server.ManagerConfig{
		Log: logBackend.Logger("MMGR"),
		DB:  db,
		Rng: rng,
	})
	gw := server.NewGateway(logBackend.Logger("GWAY"), db, mgr, origins)
	mgr.SetEmitter(gw)

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}

	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)

	srvLog := logBackend.Logger("SRVR")
	srvLog.Infof("Listening on %s", lis.Addr())
	if err := http.Serve(lis, mux); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
