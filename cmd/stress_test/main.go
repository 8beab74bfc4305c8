package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/keyvault/internal/bootstrap"
	"github.com/rl1809/keyvault/internal/config"
	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/core/service"
	"github.com/rl1809/keyvault/internal/pkg/logger"
)

const (
	initialKeys   = 20
	uniqueOrders  = 30
	totalRequests = 90 // every order is delivered three times
	maxRetries    = 50
)

func main() {
	ctx := context.Background()

	// Backend is chosen with the same env vars as the server
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slogger := logger.Init("error")

	store, err := bootstrap.OpenStorage(ctx, cfg, slogger)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	// Fresh ids so repeated runs do not see each other's ledger entries
	run := uuid.NewString()[:8]
	productID := "stress-item-" + run

	keys := make([]string, initialKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("KEY-%s-%03d", run, i)
	}
	if err := store.SetInventory(ctx, productID, keys); err != nil {
		log.Fatalf("failed to seed inventory: %v", err)
	}

	checkoutService := service.NewCheckoutService(store, slogger)

	// Counters
	var successCount, duplicateCount, soldOutCount, errorCount, retryCount atomic.Int32
	var mu sync.Mutex
	issued := make(map[string]string)
	var doubleIssued []string

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			orderID := fmt.Sprintf("stress-order-%s-%d", run, i%uniqueOrders)
			items := []domain.LineItem{{ProductID: productID, Quantity: 1}}

			for attempt := 0; ; attempt++ {
				allocs, err := checkoutService.Checkout(ctx, orderID, items)
				switch {
				case err == nil:
					successCount.Add(1)
					mu.Lock()
					for _, k := range allocs[0].Keys {
						if prev, ok := issued[k]; ok {
							doubleIssued = append(doubleIssued, fmt.Sprintf("%s -> %s, %s", k, prev, orderID))
						}
						issued[k] = orderID
					}
					mu.Unlock()
				case errors.Is(err, domain.ErrOrderAlreadyProcessed):
					duplicateCount.Add(1)
				case errors.Is(err, domain.ErrInsufficientInventory):
					soldOutCount.Add(1)
				case domain.IsRetryable(err) && attempt < maxRetries:
					retryCount.Add(1)
					continue
				default:
					errorCount.Add(1)
					log.Printf("order %s: %v", orderID, err)
				}
				return
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	remaining, err := checkoutService.Inventory().Available(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	// Results
	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Backend:          %s\n", cfg.StoreBackend)
	fmt.Printf("Initial Keys:     %d\n", initialKeys)
	fmt.Printf("Unique Orders:    %d\n", uniqueOrders)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Fulfilled:        %d\n", success)
	fmt.Printf("Duplicates:       %d\n", duplicateCount.Load())
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Commit Retries:   %d\n", retryCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialKeys {
		fmt.Printf("PASS: Exactly %d orders fulfilled\n", initialKeys)
	} else {
		fmt.Printf("FAIL: Expected %d fulfilled orders, got %d\n", initialKeys, success)
	}

	if len(doubleIssued) == 0 && len(issued) == int(success) {
		fmt.Println("PASS: No key issued twice")
	} else {
		fmt.Printf("FAIL: %d keys issued more than once: %v\n", len(doubleIssued), doubleIssued)
	}

	if remaining == initialKeys-int(success) {
		fmt.Printf("PASS: Conservation holds, %d keys left\n", remaining)
	} else {
		fmt.Printf("FAIL: Expected %d keys left, got %d\n", initialKeys-int(success), remaining)
	}
}
