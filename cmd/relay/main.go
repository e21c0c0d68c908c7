package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"emcipher/internal/mailbox"
	envelopeRepo "emcipher/internal/repository/envelope"
	redisSvc "emcipher/internal/service/redis"
	"emcipher/internal/service/relay"
	"emcipher/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	pflag.String("listen", "localhost:9090", "address the relay listens on")
	pflag.String("store", "memory", "mailbox backend: memory, redis, or mongo")
	pflag.String("redis-addr", "localhost:6379", "redis address for the redis store")
	pflag.String("mongo-uri", "mongodb://localhost:27017", "mongo URI for the mongo store")
	pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	viper.SetEnvPrefix("emcipher")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		panic(err)
	}

	if viper.GetBool("debug") {
		log.SetLevel(zapcore.DebugLevel)
	}

	store, err := buildStore(viper.GetString("store"))
	if err != nil {
		log.Fatal("init mailbox store failed", zap.Error(err))
	}

	server := relay.NewServer(store)
	go func() {
		if err := server.Run(viper.GetString("listen")); err != nil {
			log.Fatal("relay stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
}

func buildStore(kind string) (mailbox.Store, error) {
	switch kind {
	case "memory":
		return mailbox.NewMemoryStore(), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: viper.GetString("redis-addr"),
		})
		return mailbox.NewRedisStore(redisSvc.NewRedis(rdb)), nil

	case "mongo":
		client, err := initMongo(viper.GetString("mongo-uri"))
		if err != nil {
			return nil, err
		}
		repo := envelopeRepo.NewEnvelopeRepo(client.Database("emcipher"))
		return mailbox.NewMongoStore(repo), nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
