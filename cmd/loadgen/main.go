package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// loadgen drives a running flash-sale server with concurrent buyers and
// checks the oversell invariant: successes never exceed the configured stock.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	buyers := flag.Int("buyers", 200, "number of concurrent buyers")
	stock := flag.Int("stock", 100, "stock to initialize the sale with")
	flag.Parse()

	ctx := context.Background()
	client := &http.Client{Timeout: 10 * time.Second}

	now := time.Now().UTC()
	initBody, _ := json.Marshal(map[string]interface{}{
		"productName": "loadgen-item",
		"totalStock":  *stock,
		"startTime":   now.Add(-time.Minute),
		"endTime":     now.Add(time.Hour),
		"price":       "99.90",
	})
	resp, err := client.Post(*baseURL+"/api/sale/init", "application/json", bytes.NewReader(initBody))
	if err != nil {
		log.Fatalf("failed to init sale: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("init sale returned status %d", resp.StatusCode)
	}

	var successCount, soldOutCount, otherCount atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	for i := 0; i < *buyers; i++ {
		userID := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			body, _ := json.Marshal(map[string]string{"userId": userID})
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/api/sale/purchase", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				successCount.Add(1)
			case http.StatusGone:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("load run failed: %v", err)
	}
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== LOAD RESULTS ==========")
	fmt.Printf("Stock:          %d\n", *stock)
	fmt.Printf("Buyers:         %d\n", *buyers)
	fmt.Printf("Successful:     %d\n", success)
	fmt.Printf("Sold out:       %d\n", soldOut)
	fmt.Printf("Other:          %d\n", otherCount.Load())
	fmt.Printf("Duration:       %v\n", elapsed)
	fmt.Println("==================================")

	if int(success) == *stock {
		fmt.Printf("PASS: exactly %d purchases succeeded\n", *stock)
	} else {
		fmt.Printf("FAIL: expected %d successes, got %d\n", *stock, success)
	}
}
