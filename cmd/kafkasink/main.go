package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/segmentio/kafka-go"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/traceloader/internal/sink"
)

// Options defines the command line arguments
type Options struct {
	Brokers        []string      `long:"broker" description:"a kafka broker address (repeatable)" default:"localhost:9092"`
	Topic          string        `long:"topic" description:"the topic traceloader publishes to" default:"otlp_spans"`
	GroupID        string        `long:"group" description:"consumer group id" default:"traceloader-sink"`
	MaxTraces      uint          `long:"maxtraces" description:"capacity of the distinct trace filter" default:"1000000"`
	MaxSpans       uint          `long:"maxspans" description:"capacity of the distinct span filter" default:"100000000"`
	ReportInterval time.Duration `long:"report" description:"how often to log the span rate" default:"5s"`
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

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opts.Brokers,
		Topic:       opts.Topic,
		GroupID:     opts.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		ErrorLogger: kafka.LoggerFunc(log.Errorf),
	})
	defer reader.Close()

	counter := sink.NewCounter(opts.MaxTraces, opts.MaxSpans)
	rate := sink.NewSpanRateTracker(log, opts.ReportInterval)

	log.Infof("consuming topic %s from %v", opts.Topic, opts.Brokers)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			log.Errorf("error reading message: %v", err)
			continue
		}
		var req collectortrace.ExportTraceServiceRequest
		if err := proto.Unmarshal(msg.Value, &req); err != nil {
			log.Warnf("skipping message at offset %d: %v", msg.Offset, err)
			continue
		}
		rate.TrackSpans(counter.Observe(&req))
	}

	totals := counter.Totals()
	fmt.Printf("\n%d traces, %d spans (%d roots, %d errors, %d statistics) received this session\n",
		totals.Traces, totals.Spans, totals.RootSpans, totals.ErrorSpans, totals.StatSpans)
}
