package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosigner/internal/config"
	"cosigner/internal/node"
	"cosigner/internal/repository/account"
	"cosigner/internal/repository/roster"
	redisSvc "cosigner/internal/service/redis"
	"cosigner/internal/utils/log"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	join := flag.String("join", "", "host:rpcPort of a member to bootstrap the roster from")
	resetRoster := flag.Bool("reset-roster", false, "discard the stored roster snapshot before starting")
	flag.Parse()

	if err := log.Init(cfg.Debug); err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	accountRepo := account.NewAccountRepo(mongoDBClient.Database(cfg.MongoDatabase))
	if err := accountRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create account indexes failed", zap.Error(err))
	}

	rdb, err := redisSvc.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}
	redis := redisSvc.NewRedis(rdb)
	defer redis.Close()

	rosterRepo := roster.NewRosterRepo(redis, roster.Key(cfg.Host, cfg.RPCPort), cfg.RosterTTL)
	if *resetRoster {
		if err := rosterRepo.Clear(ctx); err != nil {
			log.Fatal("reset roster failed", zap.Error(err))
		}
		log.Info("roster snapshot cleared")
	}

	n, err := node.New(cfg, node.Deps{
		Accounts: accountRepo,
		Roster:   rosterRepo,
	})
	if err != nil {
		log.Fatal("create node failed", zap.Error(err))
	}

	if *join != "" {
		go func() {
			// give the local listener a moment so the peer can answer back
			time.Sleep(cfg.PollInterval * 10)
			if err := n.Join(ctx, *join); err != nil {
				log.Warn("join failed", zap.Error(err))
			}
		}()
	}

	if err := n.Run(ctx); err != nil {
		log.Error("node stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("node stopped")
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
