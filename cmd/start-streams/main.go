// start-streams registers stream definitions from a JSON file with a
// running server and starts them all.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yourusername/rtsp2web/internal/client"
	"github.com/yourusername/rtsp2web/internal/stream"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	file := flag.String("file", "streams.json", "JSON file with stream definitions")
	startAll := flag.Bool("start", true, "start all streams after registering")
	flag.Parse()

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}

	var defs []stream.Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse %s: %v\n", *file, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	api := client.NewAPIClient(*serverURL)
	if err := api.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server not reachable at %s: %v\n", *serverURL, err)
		os.Exit(1)
	}

	fmt.Printf("Registering %d streams with %s...\n", len(defs), *serverURL)

	registered := 0
	for _, def := range defs {
		info, err := api.CreateStream(ctx, def)
		if err != nil {
			fmt.Printf("Failed to register %s: %v\n", def.ID, err)
			continue
		}
		fmt.Printf("Registered %s (broadcast port %d)\n", info.ID, info.JSMpeg.Port)
		registered++
	}

	if registered == 0 {
		fmt.Println("No streams registered")
		os.Exit(1)
	}

	if *startAll {
		if err := api.StartAll(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start streams: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Started %d streams\n", registered)
	}
}
