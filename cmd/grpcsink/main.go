package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/honeycombio/traceloader/internal/sink"
)

// Options defines the command line arguments
type Options struct {
	Port           int           `long:"port" description:"Port number to listen on for grpc" default:"4317"`
	MaxTraces      uint          `long:"maxtraces" description:"capacity of the distinct trace filter" default:"1000000"`
	MaxSpans       uint          `long:"maxspans" description:"capacity of the distinct span filter" default:"100000000"`
	ReportInterval time.Duration `long:"report" description:"how often to log the span rate" default:"5s"`
}

const (
	DefaultMaxSendMsgSize        = 4 * 1024 * 1024  // 4 MB
	DefaultMaxRecvMsgSize        = 15 * 1024 * 1024 // 15 MB
	DefaultMaxConnectionIdle     = 30 * time.Minute
	DefaultMaxConnectionAge      = time.Hour
	DefaultMaxConnectionAgeGrace = 5 * time.Minute
	DefaultKeepAlive             = 2 * time.Minute
	DefaultKeepAliveTimeout      = 20 * time.Second
)

type TraceServer struct {
	counter *sink.Counter
	rate    *sink.SpanRateTracker
	collectortrace.UnimplementedTraceServiceServer
}

func (t *TraceServer) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	t.rate.TrackSpans(t.counter.Observe(req))
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// initGRPCReceiver starts a trace server on localhost and stops it when ctx
// is cancelled.
func initGRPCReceiver(ctx context.Context, log *zap.SugaredLogger, opts Options, ts *TraceServer) error {
	addr := fmt.Sprintf("localhost:%d", opts.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer(
		grpc.MaxSendMsgSize(DefaultMaxSendMsgSize),
		grpc.MaxRecvMsgSize(DefaultMaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     DefaultMaxConnectionIdle,
			MaxConnectionAge:      DefaultMaxConnectionAge,
			MaxConnectionAgeGrace: DefaultMaxConnectionAgeGrace,
			Time:                  DefaultKeepAlive,
			Timeout:               DefaultKeepAliveTimeout,
		}),
	)
	collectortrace.RegisterTraceServiceServer(srv, ts)

	go func() {
		log.Infof("gRPC server listening on %s", addr)
		if err := srv.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("stopping gRPC server")
		srv.GracefulStop()
	}()
	return nil
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

	ts := &TraceServer{
		counter: sink.NewCounter(opts.MaxTraces, opts.MaxSpans),
		rate:    sink.NewSpanRateTracker(log, opts.ReportInterval),
	}
	if err := initGRPCReceiver(ctx, log, opts, ts); err != nil {
		log.Fatalf("failed to start gRPC receiver: %v", err)
	}

	<-ctx.Done()

	totals := ts.counter.Totals()
	fmt.Printf("\n%d traces, %d spans (%d roots, %d errors, %d statistics) received this session\n",
		totals.Traces, totals.Spans, totals.RootSpans, totals.ErrorSpans, totals.StatSpans)
}
