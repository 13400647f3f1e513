package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/edirooss/indexpool-server/internal/service"
	"github.com/edirooss/indexpool-server/pkg/fmtt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// CLI flags
	addr := flag.String("addr", "127.0.0.1:6379", "Redis address of the target server")
	path := flag.String("path", "", "index directory to refresh")
	all := flag.Bool("all", false, "nudge every registered source")
	resync := flag.Bool("resync", false, "reconcile pool registrations against the catalog")
	debug := flag.Bool("debug", false, "dump full error chains on failure")
	flag.Parse()

	var msg service.ReloadMessage
	switch {
	case *resync:
		msg.Action = "resync"
	case *all:
		msg.Action = "refresh_all"
	case *path != "":
		msg.Action = "refresh"
		msg.Path = *path
	default:
		fmt.Println("Usage: ./pool-refresh [-addr=<redis>] -path=<dir> | -all | -resync")
		os.Exit(1)
	}

	log := buildLogger()
	log = log.Named("main")

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Fatal("marshal reload message failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: *addr, DialTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	receivers, err := rdb.Publish(ctx, service.ReloadChannel, payload).Result()
	if err != nil {
		if *debug {
			fmtt.DumpErrChain(err)
		} else {
			fmtt.PrintErrChain(err)
		}
		log.Fatal("publish failed", zap.Error(err))
	}

	log.Info("reload published",
		zap.String("channel", service.ReloadChannel),
		zap.String("action", msg.Action),
		zap.Int64("receivers", receivers),
	)
	if receivers == 0 {
		log.Warn("no server subscribed to the reload channel")
	}
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
