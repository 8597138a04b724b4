// Command loadtest hammers the order allocation path against a real
// Redis backend: it seeds a batch record and fires concurrent one-piece
// orders, checking that exactly the seeded quantity succeeds and the
// record drains to zero without going negative.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/adapter/storage"
	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/core/service"
)

const (
	redisAddr     = "localhost:6379"
	companyName   = "Loadtest Traders"
	stockItem     = "Loadtest Widget"
	batchSize     = 10
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewRedisStore(rdb, 5*time.Second)
	orderService := service.NewOrderService(store, store, logger, queueSize)
	defer orderService.Close()

	// Drain the history queue in background.
	go func() {
		for range orderService.OrderQueue() {
		}
	}()

	// Seed a fresh batch record; AddBatches replaces any leftover state
	// from a previous run.
	if _, err := orderService.AddBatches(ctx, companyName, stockItem, []domain.Batch{
		{Size: batchSize, Quantity: initialStock},
	}); err != nil {
		log.Fatalf("failed to seed batches: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(shop int) {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, companyName, fmt.Sprintf("shop-%d", shop), []domain.OrderItemRequest{
				{StockItem: stockItem, Pieces: map[int]int{batchSize: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				failCount.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=======================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	rec, found, err := orderService.GetBatches(ctx, companyName, stockItem)
	if err != nil || !found {
		log.Fatalf("failed to read final batch record: found=%v err=%v", found, err)
	}
	fmt.Printf("Final Quantity:   %d\n", rec.TotalQuantity)

	if rec.TotalQuantity == 0 {
		fmt.Println("PASS: Stock drained to 0")
	} else {
		fmt.Printf("FAIL: Expected quantity 0, got %d\n", rec.TotalQuantity)
	}
}
