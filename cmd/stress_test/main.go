package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/adapter/storage"
	"github.com/rl1809/order-service/internal/core/domain"
)

const (
	skuInStock    = "stress-in-stock"
	skuSoldOut    = "stress-sold-out"
	totalRequests = 200
	duplicates    = 20
	concurrency   = 50
)

// Drives concurrent placements against a running server with
// INVENTORY_MODE=redis and reports the status code mix.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	baseURL := getenv("ORDER_URL", "http://localhost:8080")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")

	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	// Seed stock
	redisAdapter := storage.NewRedisAdapter(rdb)
	if err := redisAdapter.SetStock(ctx, skuInStock, 1000); err != nil {
		logger.Fatal("failed to set stock", zap.Error(err))
	}
	if err := redisAdapter.SetStock(ctx, skuSoldOut, 0); err != nil {
		logger.Fatal("failed to set stock", zap.Error(err))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	sharedKey := uuid.NewString()

	var (
		mu       sync.Mutex
		statuses = make(map[int]int)
		errCount atomic.Int32
		wg       sync.WaitGroup
		sem      = make(chan struct{}, concurrency)
	)

	start := time.Now()
	for i := 0; i < totalRequests+duplicates; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			sku, key := skuInStock, uuid.NewString()
			switch {
			case i >= totalRequests:
				key = sharedKey
			case i%10 == 0:
				sku = skuSoldOut
			}

			code, err := placeOrder(client, baseURL, sku, key)
			if err != nil {
				errCount.Add(1)
				return
			}
			mu.Lock()
			statuses[code]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	codes := make([]int, 0, len(statuses))
	for c := range statuses {
		codes = append(codes, c)
	}
	sort.Ints(codes)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests+duplicates)
	for _, c := range codes {
		fmt.Printf("HTTP %d:         %d\n", c, statuses[c])
	}
	fmt.Printf("Transport Errors: %d\n", errCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Throughput:       %.1f req/s\n", float64(totalRequests+duplicates)/elapsed.Seconds())
	fmt.Println("==========================================")

	// Assertions
	wantCreated := totalRequests - totalRequests/10 + 1
	if statuses[http.StatusCreated] == wantCreated {
		fmt.Printf("PASS: %d orders created\n", wantCreated)
	} else {
		fmt.Printf("FAIL: expected %d created, got %d\n", wantCreated, statuses[http.StatusCreated])
	}
	if statuses[http.StatusConflict] == totalRequests/10+duplicates-1 {
		fmt.Println("PASS: sold out and duplicate requests rejected")
	} else {
		fmt.Printf("FAIL: expected %d conflicts, got %d\n", totalRequests/10+duplicates-1, statuses[http.StatusConflict])
	}
}

func placeOrder(client *http.Client, baseURL, sku, key string) (int, error) {
	body, err := json.Marshal(domain.PlaceOrderRequest{Lines: []domain.LineRequest{
		{SKUCode: sku, Quantity: 1, Price: decimal.RequireFromString("9.99")},
	}})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/order", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
