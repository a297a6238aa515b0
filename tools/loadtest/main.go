// Load generator for the relay: opens framed-protocol connections against a
// listener and pushes messages at a fixed rate, reporting throughput and
// error counts.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	host        = flag.String("host", "localhost", "Target host")
	port        = flag.Int("port", 2000, "Target port")
	connections = flag.Int("connections", 50, "Number of concurrent connections")
	duration    = flag.Duration("duration", 30*time.Second, "Test duration")
	rate        = flag.Float64("rate", 10.0, "Messages per second per connection")
	messageSize = flag.Int("message-size", 64, "Message payload size in bytes")
	timeout     = flag.Duration("timeout", 5*time.Second, "Connection timeout")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

type Stats struct {
	TotalConnections int64
	SuccessfulConns  int64
	FailedConns      int64
	TotalMessages    int64
	FailedMsgs       int64
	TotalBytes       int64
	ReadBytes        int64
}

var stats Stats

func main() {
	flag.Parse()

	fmt.Printf("=== rakshim Load Test ===\n")
	fmt.Printf("Target: %s:%d\n", *host, *port)
	fmt.Printf("Connections: %d\n", *connections)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Rate: %.2f msg/s per connection\n", *rate)
	fmt.Printf("\n")

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	startTime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runConnection(ctx)
		}()
	}
	wg.Wait()

	elapsed := time.Since(startTime)
	printFinalReport(elapsed)
}

func runConnection(ctx context.Context) {
	atomic.AddInt64(&stats.TotalConnections, 1)

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", *host, *port), *timeout)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		if *verbose {
			fmt.Printf("connection failed: %v\n", err)
		}
		return
	}
	defer conn.Close()

	atomic.AddInt64(&stats.SuccessfulConns, 1)

	// Drain whatever the relay sends back; the payload content is opaque
	// to the generator.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				atomic.AddInt64(&stats.ReadBytes, int64(n))
			}
			if err != nil {
				return
			}
		}
	}()

	payload := make([]byte, *messageSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sendFrame(conn, payload); err != nil {
				atomic.AddInt64(&stats.FailedMsgs, 1)
				if *verbose {
					fmt.Printf("send failed: %v\n", err)
				}
				return
			}
		}
	}
}

// sendFrame writes one message in the relay's wire format: a 4-byte
// little-endian length prefix followed by the payload.
func sendFrame(conn net.Conn, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := conn.Write(frame); err != nil {
		return err
	}
	atomic.AddInt64(&stats.TotalMessages, 1)
	atomic.AddInt64(&stats.TotalBytes, int64(len(frame)))
	return nil
}

func printFinalReport(elapsed time.Duration) {
	fmt.Printf("\n=== Final Report ===\n")
	fmt.Printf("Elapsed: %v\n", elapsed)
	fmt.Printf("Connections: %d total, %d ok, %d failed\n",
		stats.TotalConnections, stats.SuccessfulConns, stats.FailedConns)
	fmt.Printf("Messages sent: %d (%d failed)\n", stats.TotalMessages, stats.FailedMsgs)
	fmt.Printf("Bytes written: %d, bytes read back: %d\n", stats.TotalBytes, stats.ReadBytes)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("Throughput: %.1f msg/s, %.1f KB/s\n",
			float64(stats.TotalMessages)/secs, float64(stats.TotalBytes)/secs/1024)
	}
}
