// ABOUTME: Minimal fake agent for E2E testing — polls the gateway over HTTP and echoes commands.
// ABOUTME: Usage: fake-agent [-addr localhost:8080] [-hostname fake-1] [-interval 2s]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

type registerRequest struct {
	Hostname string `json:"hostname"`
	OSInfo   string `json:"os_info"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Commands []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"commands"`
}

type resultRequest struct {
	Output   string  `json:"output"`
	Error    *string `json:"error,omitempty"`
	ExitCode int     `json:"exit_code"`
}

type screenshotRequest struct {
	ImageData []byte    `json:"image_data"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway HTTP address")
	hostname := flag.String("hostname", "fake-agent", "reported hostname")
	osInfo := flag.String("os", "linux fake/1.0", "reported OS info")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	screenshots := flag.Bool("screenshots", false, "upload a tiny screenshot after each completed command")
	flag.Parse()

	if err := run(*addr, *hostname, *osInfo, *interval, *screenshots); err != nil {
		log.Fatal(err)
	}
}

func run(addr, hostname, osInfo string, interval time.Duration, screenshots bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	base := "http://" + addr

	agentID, err := register(ctx, base, hostname, osInfo)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered as %s\n", agentID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var poll pollResponse
		if err := postJSON(ctx, base+"/api/agents/"+agentID+"/poll", nil, &poll); err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			log.Printf("poll error: %v", err)
			continue
		}

		for _, cmd := range poll.Commands {
			log.Printf("received command [%s]: %s", cmd.ID, cmd.Text)

			result := execute(cmd.Text)
			if err := postJSON(ctx, base+"/api/commands/"+cmd.ID+"/result", result, nil); err != nil {
				log.Printf("report error: %v", err)
				continue
			}

			if screenshots && result.ExitCode == 0 {
				if err := uploadScreenshot(ctx, base, agentID); err != nil {
					log.Printf("screenshot error: %v", err)
				}
			}
		}
	}
}

func register(ctx context.Context, base, hostname, osInfo string) (string, error) {
	var resp registerResponse
	err := postJSON(ctx, base+"/api/agents/register", registerRequest{
		Hostname: hostname,
		OSInfo:   osInfo,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned empty agent ID")
	}
	return resp.ID, nil
}

// execute fakes command execution: echoes the command back, failing
// anything that mentions "fail" so error paths can be exercised end to end.
func execute(text string) resultRequest {
	if strings.Contains(strings.ToLower(text), "fail") {
		msg := "simulated failure: " + text
		return resultRequest{Error: &msg, ExitCode: 1}
	}
	return resultRequest{Output: fmt.Sprintf("echo: %s\n", text), ExitCode: 0}
}

func uploadScreenshot(ctx context.Context, base, agentID string) error {
	// 1x1 transparent PNG
	png := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
	return postJSON(ctx, base+"/api/agents/"+agentID+"/screenshot", screenshotRequest{
		ImageData: png,
		Timestamp: time.Now().UTC(),
	}, nil)
}

func postJSON(ctx context.Context, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
