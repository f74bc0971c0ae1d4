package receipts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/smarterescrow/internal/testutil"
)

const (
	testBuyer    = "0x1111111111111111111111111111111111111111"
	testEscrow   = "0x3333333333333333333333333333333333333333"
	testDeployer = "0x4444444444444444444444444444444444444444"
)

func sampleReceipt(hash string, block uint64, from, to string) *Receipt {
	return &Receipt{
		TxHash:            hash,
		BlockNumber:       block,
		From:              from,
		To:                to,
		Method:            "deposit",
		Value:             "1000000000000000000",
		GasUsed:           66000,
		EffectiveGasPrice: "1000000000",
		Fee:               "66000000000000",
		Status:            StatusSuccess,
		Logs: []Log{{
			Address: to,
			Event:   "Deposited",
			Topics:  []string{"0xaa", "0xbb"},
			Data:    "0x01",
			Args:    map[string]string{"amount": "1000000000000000000"},
		}},
	}
}

func TestService_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	r := sampleReceipt("0xABCDEF", 1, "0x1111111111111111111111111111111111111111", testEscrow)
	require.NoError(t, svc.Record(ctx, r))

	got, err := svc.Get(ctx, "0xabcdef")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", got.TxHash)
	assert.Equal(t, "deposit", got.Method)
	assert.False(t, got.CreatedAt.IsZero())
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "Deposited", got.Logs[0].Event)
}

func TestService_GetMissing(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.Get(context.Background(), "0x00")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestService_NilSafe(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Record(context.Background(), &Receipt{}))
}

func TestService_ListByAccount(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	deploy := sampleReceipt("0x01", 1, testDeployer, "")
	deploy.ContractAddress = testEscrow
	deploy.Method = ""
	require.NoError(t, svc.Record(ctx, deploy))
	require.NoError(t, svc.Record(ctx, sampleReceipt("0x02", 2, testBuyer, testEscrow)))
	require.NoError(t, svc.Record(ctx, sampleReceipt("0x03", 3, testBuyer, testEscrow)))

	byEscrow, err := svc.ListByAccount(ctx, testEscrow, 10)
	require.NoError(t, err)
	require.Len(t, byEscrow, 3)
	assert.Equal(t, uint64(3), byEscrow[0].BlockNumber)
	assert.Equal(t, uint64(1), byEscrow[2].BlockNumber)

	byBuyer, err := svc.ListByAccount(ctx, testBuyer, 1)
	require.NoError(t, err)
	require.Len(t, byBuyer, 1)
	assert.Equal(t, "0x03", byBuyer[0].TxHash)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, sampleReceipt("0x01", 1, testBuyer, testEscrow)))

	got, err := store.Get(ctx, "0x01")
	require.NoError(t, err)
	got.Logs[0].Args["amount"] = "0"

	again, err := store.Get(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", again.Logs[0].Args["amount"])
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash := "0x" + strings.Repeat("0a", 32)
	svc := NewService(NewMemoryStore())
	require.NoError(t, svc.Record(context.Background(), sampleReceipt(hash, 7, testBuyer, testEscrow)))

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/v1/receipts/" + hash)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Receipt Receipt `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(7), body.Receipt.BlockNumber)

	// Lookups are case-insensitive.
	w = get("/v1/receipts/0x" + strings.Repeat("0A", 32))
	assert.Equal(t, http.StatusOK, w.Code)

	w = get("/v1/receipts/" + hash + "/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), "Deposited")

	w = get("/v1/receipts/0x" + strings.Repeat("ff", 32))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")

	for _, bad := range []string{"0x0a", "deadbeef", "0x" + strings.Repeat("zz", 32)} {
		w = get("/v1/receipts/" + bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Contains(t, w.Body.String(), "validation_error")
	}

	w = get("/v1/accounts/" + testBuyer + "/receipts?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = get("/v1/accounts/" + testDeployer + "/receipts?limit=junk")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = get("/v1/accounts/not-an-address/receipts")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, listLimit(""))
	assert.Equal(t, defaultListLimit, listLimit("-3"))
	assert.Equal(t, defaultListLimit, listLimit("abc"))
	assert.Equal(t, 5, listLimit("5"))
	assert.Equal(t, maxListLimit, listLimit("100000"))
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(NewPostgresStore(db))

	r := sampleReceipt("0xfeed", 4, testBuyer, testEscrow)
	r.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, svc.Record(ctx, r))

	got, err := svc.Get(ctx, "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, r.Value, got.Value)
	assert.Equal(t, r.Fee, got.Fee)
	assert.Equal(t, uint64(4), got.BlockNumber)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "1000000000000000000", got.Logs[0].Args["amount"])

	list, err := svc.ListByAccount(ctx, testEscrow, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.Get(ctx, "0xdead")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}
