package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/autotile/internal/api"
	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/publish"
	"github.com/annel0/autotile/internal/tiling"
)

const defaultNATS = "nats://127.0.0.1:4222"

func main() {
	var (
		command = flag.String("cmd", "tail", "Command: tail, token")
		natsURL = flag.String("nats", defaultNATS, "NATS server URL")
		stream  = flag.String("stream", "AUTOTILE", "JetStream stream name")
		layers  = flag.String("layers", "", "Layer filter (comma-separated)")
		limit   = flag.Int("limit", 0, "Stop after N frames (0 = follow)")
		verbose = flag.Bool("v", false, "Print every updated position")
		secret  = flag.String("secret", os.Getenv("AUTOTILE_ADMIN_SECRET"), "Admin secret for token")
		subject = flag.String("subject", "operator", "Token subject")
		ttl     = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	switch *command {
	case "tail":
		if err := tailFrames(*natsURL, *stream, parseStringList(*layers), *limit, *verbose); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "token":
		token, err := api.IssueAdminToken([]byte(*secret), *subject, *ttl)
		if err != nil {
			log.Fatalf("❌ Token failed: %v", err)
		}
		fmt.Println(token)

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, token")
		os.Exit(1)
	}
}

// tailFrames печатает кадры слоёв из JetStream до Ctrl+C или лимита
func tailFrames(url, stream string, layers []string, limit int, verbose bool) error {
	bus, err := eventbus.NewJetStreamBus(url, stream, 0)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frames := make(chan *tiling.LayerFrame, 64)
	consumer, err := publish.NewFrameConsumer(ctx, bus, layers, func(_ context.Context, f *tiling.LayerFrame) {
		select {
		case frames <- f:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	fmt.Printf("🎬 Tailing frames from %s (stream %s, layers: %v)\n", url, stream, layers)

	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n📊 Total frames: %d\n", count)
			return nil
		case f := <-frames:
			printFrame(f, verbose)
			count++
			if limit > 0 && count >= limit {
				fmt.Printf("\n📊 Total frames: %d\n", count)
				return nil
			}
		}
	}
}

func printFrame(f *tiling.LayerFrame, verbose bool) {
	mark := ""
	if f.Cleared {
		mark = " [cleared]"
	}
	fmt.Printf("[%s] #%d%s refreshed=%d updates=%d spawns=%d despawns=%d\n",
		f.Layer, f.Frame, mark, len(f.Refreshed), len(f.Updates), len(f.Spawns), len(f.Despawns))

	if !verbose {
		return
	}
	for _, u := range f.Updates {
		if u.Sprite == nil {
			fmt.Printf("   %v  -\n", u.Position)
			continue
		}
		fmt.Printf("   %v  %s flip=(%v,%v) rot=%d\n",
			u.Position, u.Sprite.Sprite.Texture, u.Sprite.FlipX, u.Sprite.FlipY, u.Sprite.Rotation)
	}
	for _, s := range f.Spawns {
		fmt.Printf("   %v  + %s\n", s.Position, s.Prefab)
	}
	for _, d := range f.Despawns {
		fmt.Printf("   %v  - entity %d\n", d.Position, d.Handle)
	}
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
