package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/socket-chess-server/internal/server"
	"github.com/park285/socket-chess-server/internal/wsclient"
	"github.com/park285/socket-chess-server/pkg/chessproto"
)

func main() {
	wsURL := os.Getenv("CHESS_WS_URL")
	userID := os.Getenv("PROBE_USER_ID")
	displayName := os.Getenv("PROBE_DISPLAY_NAME")
	secret := os.Getenv("JWT_SECRET")
	joinID := os.Getenv("PROBE_JOIN_MATCH")

	if wsURL == "" {
		wsURL = "ws://localhost:8080/ws"
	}
	if userID == "" {
		userID = "probe"
	}

	token := ""
	if secret != "" {
		t, err := server.NewAuthenticator(secret).Issue(userID, 10*time.Minute)
		if err != nil {
			log.Fatalf("token error: %v", err)
		}
		token = t
	}

	c := wsclient.New(wsURL, wsclient.WithReconnect(3))
	c.OnStateChange(func(s wsclient.State) {
		log.Printf("WS state: %s", s)
	})
	c.OnMessage(func(f wsclient.Frame) {
		if f.RequestID != "" {
			return
		}
		fmt.Printf("push type=%s %s\n", f.Type, string(f.Raw))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := c.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer func() { _ = c.Close(context.Background()) }()

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	if _, err := c.Request(rctx, chessproto.KindAuth, map[string]any{
		"userId":      userID,
		"displayName": displayName,
		"token":       token,
	}); err != nil {
		log.Printf("auth error: %v", err)
		return
	}
	log.Printf("auth ok: user=%s", userID)

	f, err := c.Request(rctx, chessproto.KindGetAvailableMatches, nil)
	if err != nil {
		log.Printf("list error: %v", err)
		return
	}
	var list chessproto.MatchList
	if err := f.Decode(&list); err != nil {
		log.Printf("list decode error: %v", err)
		return
	}
	log.Printf("available matches: %d", len(list.Matches))
	for _, m := range list.Matches {
		fmt.Printf("  %s white=%s stake=%d tc=%s\n", m.ID, m.WhitePlayerID, m.Stake, m.TimeControl)
	}

	if joinID != "" {
		if _, err := c.Request(rctx, chessproto.KindJoinMatch, map[string]any{"matchId": joinID}); err != nil {
			log.Printf("join error: %v", err)
		} else {
			log.Printf("joined %s", joinID)
		}
	}

	// Observe pushes for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C
}
