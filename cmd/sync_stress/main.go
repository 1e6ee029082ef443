package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tablesync/internal/adapter/handler"
	"github.com/rl1809/tablesync/internal/core/domain"
)

// sync_stress replays concurrent edits of one order from several terminals
// against a running server and checks that every sync gets a verdict and the
// stored order stays consistent.
func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8080", "server base URL")
		tenant  = flag.String("tenant", "stress-tenant", "tenant id")
		devices = flag.Int("devices", 8, "concurrent terminals")
		rounds  = flag.Int("rounds", 25, "syncs per terminal")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := &http.Client{Timeout: 10 * time.Second}
	ctx := context.Background()
	orderID := uuid.NewString()

	// Seed the order from the first terminal so every device starts from it.
	seed := snapshot(orderID, "device-0", domain.NewVectorClock(map[string]int64{"device-0": 1}), 1)
	if _, err := syncBatch(ctx, client, *baseURL, *tenant, []handler.OrderSnapshotDTO{seed}); err != nil {
		logger.Error("seed sync failed", "error", err)
		os.Exit(1)
	}

	var (
		counts   sync.Map
		requests atomic.Int64
		failures atomic.Int64
		wg       sync.WaitGroup
	)
	start := time.Now()

	for d := 0; d < *devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			device := fmt.Sprintf("device-%d", d)
			counters := map[string]int64{"device-0": 1}

			for r := 1; r <= *rounds; r++ {
				counters[device]++
				snap := snapshot(orderID, device, domain.NewVectorClock(counters), 1+(d+r)%4)

				results, err := syncBatch(ctx, client, *baseURL, *tenant, []handler.OrderSnapshotDTO{snap})
				requests.Add(1)
				if err != nil || len(results) != 1 {
					failures.Add(1)
					continue
				}
				v, _ := counts.LoadOrStore(results[0].Status, new(atomic.Int64))
				v.(*atomic.Int64).Add(1)
			}
		}(d)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== SYNC STRESS RESULTS ==========")
	fmt.Printf("Order:            %s\n", orderID)
	fmt.Printf("Terminals:        %d\n", *devices)
	fmt.Printf("Requests:         %d\n", requests.Load())
	fmt.Printf("Transport errors: %d\n", failures.Load())
	var verdicts int64
	counts.Range(func(k, v any) bool {
		n := v.(*atomic.Int64).Load()
		verdicts += n
		fmt.Printf("%-17s %d\n", k.(string)+":", n)
		return true
	})
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if verdicts+failures.Load() == requests.Load() {
		fmt.Println("PASS: every sync got a verdict")
	} else {
		fmt.Printf("FAIL: %d requests, %d verdicts\n", requests.Load(), verdicts)
	}

	orders, err := listOrders(ctx, client, *baseURL, *tenant)
	if err != nil {
		logger.Error("list orders failed", "error", err)
		os.Exit(1)
	}
	for _, o := range orders {
		if o.OrderID != orderID {
			continue
		}
		items, err := domain.DecodeItems(o.ItemsJSON)
		if err != nil {
			fmt.Printf("FAIL: stored items unreadable: %v\n", err)
			return
		}
		fmt.Printf("Final clock:      %s\n", o.LogicalClock)
		fmt.Printf("Active units:     %d\n", items.TotalActive())
		fmt.Println("PASS: order readable after concurrent syncs")
		return
	}
	fmt.Println("FAIL: order missing after sync")
}

func snapshot(orderID, device string, clock domain.VectorClock, quantity int) handler.OrderSnapshotDTO {
	items, _ := domain.EncodeItems(domain.ItemList{{
		ProductID:  "ramen",
		Name:       "Tonkotsu Ramen",
		Quantity:   quantity,
		UnitPrice:  decimal.NewFromInt(12),
		ItemStatus: domain.ItemStatusActive,
	}})
	total := decimal.NewFromInt(int64(12 * quantity))
	return handler.OrderSnapshotDTO{
		OrderID:      orderID,
		DeviceID:     &device,
		CustomerName: "Stress Table",
		TableID:      "T1",
		TotalAmount:  total,
		FinalTotal:   total,
		Status:       string(domain.OrderStatusPending),
		ItemsJSON:    items,
		GuestCount:   2,
		LogicalClock: clock.String(),
		DiscountType: string(domain.DiscountNone),
	}
}

func syncBatch(ctx context.Context, client *http.Client, baseURL, tenant string, batch []handler.OrderSnapshotDTO) ([]handler.SyncResultDTO, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/sync-orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.TenantHeader, tenant)

	var out []handler.SyncResultDTO
	if err := do(client, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func listOrders(ctx context.Context, client *http.Client, baseURL, tenant string) ([]handler.OrderSnapshotDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/orders?limit=500", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(handler.TenantHeader, tenant)

	var out []handler.OrderSnapshotDTO
	if err := do(client, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
