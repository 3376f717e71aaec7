package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-service/internal/adapter/storage"
	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/core/service"
	"github.com/rl1809/order-service/internal/resilience"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	cache   *storage.RedisAdapter
	db      *storage.MySQLAdapter
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/orders?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	return &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb),
		db:    adapter,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

type countingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderPlacedEvent
}

func (c *countingPublisher) Publish(ctx context.Context, topic string, event domain.OrderPlacedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *countingPublisher) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (e *testEnv) newService(pub *service.AsyncPublisher) *service.OrderService {
	checker := resilience.NewInventoryClient(e.cache, resilience.Config{
		Timeout: time.Second,
		Retry:   resilience.RetryPolicy{MaxAttempts: 2, InitialInterval: 10 * time.Millisecond},
	}, zap.NewNop())
	return service.NewOrderService(e.db, checker, pub, zap.NewNop(), service.Config{}).
		WithIdempotencyGuard(e.cache)
}

func gameRequest(sku string) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{Lines: []domain.LineRequest{
		{SKUCode: sku, Quantity: 1, Price: decimal.RequireFromString("9.99")},
	}}
}

func TestIntegration_PlaceOrderFlow(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	sku := "integration-" + uuid.NewString()
	env.cache.SetStock(ctx, sku, 10)
	defer env.redis.Del(ctx, "stock:"+sku)

	next := &countingPublisher{}
	pub := service.NewAsyncPublisher(next, 100, time.Second, zap.NewNop())
	pub.Start(3)
	svc := env.newService(pub)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ids []int64
	totalRequests := 20

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conf, err := svc.PlaceOrder(ctx, gameRequest(sku))
			if err != nil {
				t.Errorf("placement failed: %v", err)
				return
			}
			successCount.Add(1)
			mu.Lock()
			ids = append(ids, conf.OrderID)
			mu.Unlock()
		}()
	}

	wg.Wait()
	pub.Close()

	defer func() {
		for _, id := range ids {
			env.db.DeleteByID(ctx, id)
		}
	}()

	if successCount.Load() != int32(totalRequests) {
		t.Errorf("expected %d successful placements, got %d", totalRequests, successCount.Load())
	}
	if next.Count() != totalRequests {
		t.Errorf("expected %d notifications, got %d", totalRequests, next.Count())
	}

	var lineCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_line_items WHERE sku_code = ?`, sku).Scan(&lineCount)
	if lineCount != totalRequests {
		t.Errorf("expected %d lines in MySQL, got %d", totalRequests, lineCount)
	}
}

func TestIntegration_OutOfStockLeavesStoreUnchanged(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	sku := "sold-out-" + uuid.NewString()
	env.cache.SetStock(ctx, sku, 0)
	defer env.redis.Del(ctx, "stock:"+sku)

	next := &countingPublisher{}
	pub := service.NewAsyncPublisher(next, 10, time.Second, zap.NewNop())
	pub.Start(1)
	svc := env.newService(pub)

	_, err := svc.PlaceOrder(ctx, gameRequest(sku))
	pub.Close()

	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got: %v", err)
	}

	var lineCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_line_items WHERE sku_code = ?`, sku).Scan(&lineCount)
	if lineCount != 0 {
		t.Errorf("expected no lines, got %d", lineCount)
	}
	if next.Count() != 0 {
		t.Errorf("expected no notification, got %d", next.Count())
	}
}

func TestIntegration_IdempotencyPreventsDoubleOrder(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	sku := "idempotency-" + uuid.NewString()
	requestID := uuid.NewString()
	env.cache.SetStock(ctx, sku, 10)
	defer env.redis.Del(ctx, "stock:"+sku, "order:idempotency:"+requestID)

	pub := service.NewAsyncPublisher(&countingPublisher{}, 10, time.Second, zap.NewNop())
	pub.Start(1)
	defer pub.Close()
	svc := env.newService(pub)

	req := gameRequest(sku)
	req.IdempotencyKey = requestID

	// First call
	conf, err := svc.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("first placement failed: %v", err)
	}
	defer env.db.DeleteByID(ctx, conf.OrderID)

	// Second call with same key
	_, err = svc.PlaceOrder(ctx, req)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	var lineCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_line_items WHERE sku_code = ?`, sku).Scan(&lineCount)
	if lineCount != 1 {
		t.Errorf("expected 1 line, got %d", lineCount)
	}
}
