package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/honeycombio/traceloader/internal/sink"
)

// Options defines the command line arguments
type Options struct {
	Port           int           `long:"port" description:"Port number to listen on for HTTP" default:"4318"`
	MaxTraces      uint          `long:"maxtraces" description:"capacity of the distinct trace filter" default:"1000000"`
	MaxSpans       uint          `long:"maxspans" description:"capacity of the distinct span filter" default:"100000000"`
	ReportInterval time.Duration `long:"report" description:"how often to log the span rate" default:"5s"`
}

// tracesHandler accepts OTLP/HTTP trace exports in protobuf or JSON.
func tracesHandler(log *zap.SugaredLogger, counter *sink.Counter, rate *sink.SpanRateTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		req, err := sink.DecodeRequest(r.Body, r.Header.Get("Content-Type"), r.Header.Get("Content-Encoding"))
		if err != nil {
			log.Debugf("rejected request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rate.TrackSpans(counter.Observe(req))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}
}

func main() {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	zl, _ := zap.NewDevelopment()
	log := zl.Sugar()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counter := sink.NewCounter(opts.MaxTraces, opts.MaxSpans)
	rate := sink.NewSpanRateTracker(log, opts.ReportInterval)

	mux := http.NewServeMux()
	mux.Handle("/v1/traces", tracesHandler(log, counter, rate))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: mux,
	}

	go func() {
		log.Infof("HTTP server listening on port %d", opts.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error during server shutdown: %v", err)
	}

	totals := counter.Totals()
	fmt.Printf("\n%d traces, %d spans (%d roots, %d errors, %d statistics) received this session\n",
		totals.Traces, totals.Spans, totals.RootSpans, totals.ErrorSpans, totals.StatSpans)
}
