// Command bulk-terminate hits a running kacchikernel's debug API to
// terminate every process in a PID range, one request at a time. It's the
// operator's alternative to typing "terminate <pid>" into the shell
// repeatedly over serial.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	start := flag.Int("start", 0, "start of pid range")
	end := flag.Int("end", 0, "end of pid range")
	addr := flag.String("addr", "http://127.0.0.1:8080", "kacchikernel debug API base URL")
	username := flag.String("username", "admin", "basic auth username")
	password := flag.String("password", "kacchi", "basic auth password")
	flag.Parse()

	if *start <= 0 || *end <= 0 || *end < *start {
		fmt.Println("Usage: ./bulk-terminate -start=<start_pid> -end=<end_pid> [-addr=http://host:port]")
		os.Exit(1)
	}

	log := buildLogger().Named("main")

	client := &http.Client{Timeout: 5 * time.Second}
	total := (*end - *start) + 1

	for idx, pid := 0, *start; pid <= *end; idx, pid = idx+1, pid+1 {
		iterStart := time.Now()

		if err := terminate(client, *addr, *username, *password, pid); err != nil {
			log.Fatal("process termination failed",
				zap.Int("pid", pid),
				zap.Error(err),
			)
		}

		log.Info("process terminated",
			zap.Int("pid", pid),
			zap.Int("terminated", idx+1),
			zap.Int("total", total),
			zap.Duration("took", time.Since(iterStart)),
		)
	}
}

func terminate(client *http.Client, addr, username, password string, pid int) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/ps/%d", addr, pid), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(username, password)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("unexpected status %d: %v", resp.StatusCode, body)
	}
	return nil
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
