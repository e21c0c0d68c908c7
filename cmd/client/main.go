package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"emcipher/internal/model"
	"emcipher/internal/service/app"
	"emcipher/internal/service/relayclient"
	"emcipher/internal/service/session"
	"emcipher/internal/utils/log"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	relayHost := pflag.String("relay", "localhost:9090", "relay host:port")
	convID := pflag.String("conv", "", "conversation id (shared out-of-band)")
	saltB64 := pflag.String("salt", "", "conversation salt, base64 of 16 bytes (shared out-of-band)")
	profile := pflag.String("profile", string(model.ProfileDesktop), "kdf profile: desktop or mobile")
	counter := pflag.Uint64("counter", 0, "last used message counter from a previous run")
	pflag.Parse()

	if *convID == "" || *saltB64 == "" {
		pflag.Usage()
		os.Exit(2)
	}

	salt, err := base64.StdEncoding.DecodeString(*saltB64)
	if err != nil {
		log.Fatal("salt is not valid base64", zap.Error(err))
	}

	prof, err := model.ParseProfile(*profile)
	if err != nil {
		log.Fatal("bad profile", zap.Error(err))
	}

	seed := os.Getenv("EMCIPHER_SEED")
	if seed == "" {
		fmt.Print("Enter seed passphrase: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatal("read seed failed", zap.Error(err))
		}
		seed = strings.TrimSpace(line)
	}

	params := model.ConversationParams{
		ConvID:  *convID,
		Salt:    salt,
		Profile: prof,
	}

	relay := relayclient.New(*relayHost)

	fmt.Println("Deriving conversation key...")
	sess, err := session.Open(seed, params, relay, *counter)
	if err != nil {
		log.Fatal("open session failed", zap.Error(err))
	}

	chat := app.NewApp(relay, sess, *convID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat.Run(ctx)

	// persisting the counter between runs prevents reuse after restart
	fmt.Printf("Last used counter: %d (pass via --counter next run)\n", sess.Counter())
	chat.Stop()
}
