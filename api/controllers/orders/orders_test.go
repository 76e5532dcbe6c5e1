package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	internalorders "github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type stubOrdersService struct {
	internalorders.Service
	created map[string]uuid.UUID
}

func (s *stubOrdersService) FindByPaymentReference(_ context.Context, reference string) (*internalorders.OrderDetail, error) {
	id, ok := s.created[reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return &internalorders.OrderDetail{ID: id, PaymentReference: reference}, nil
}

// stubPlacer accepts orders whose total matches the charged amount.
type stubPlacer struct {
	charged  map[string]string
	created  map[string]uuid.UUID
	received []internalorders.CreateOrderInput
}

func (s *stubPlacer) Place(_ context.Context, input internalorders.CreateOrderInput) (*reconciler.Result, error) {
	s.received = append(s.received, input)
	total, ok := s.charged[input.PaymentReference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no successful payment recorded for reference")
	}
	if input.Total.String() != total {
		return nil, pkgerrors.New(pkgerrors.CodePaymentAmount, "order does not match the paid checkout")
	}
	if id, ok := s.created[input.PaymentReference]; ok {
		return &reconciler.Result{Reference: input.PaymentReference, State: enums.ReconcileOrderCreated, OrderID: &id, Existing: true}, nil
	}
	id := uuid.New()
	s.created[input.PaymentReference] = id
	return &reconciler.Result{Reference: input.PaymentReference, State: enums.ReconcileOrderCreated, OrderID: &id}, nil
}

func newStubPlacer() *stubPlacer {
	return &stubPlacer{charged: map[string]string{"SF-1": "12000"}, created: map[string]uuid.UUID{}}
}

type stubRetrier struct {
	err   error
	calls []string
}

func (s *stubRetrier) Retry(_ context.Context, reference string) (*reconciler.Result, error) {
	s.calls = append(s.calls, reference)
	if s.err != nil {
		return nil, s.err
	}
	return &reconciler.Result{Reference: reference, State: enums.ReconcileOrderCreated}, nil
}

func ordersRouter(svc internalorders.Service, placer orderPlacer, retrier orderRetrier) http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", Create(placer, nil))
	r.Get("/orders/{reference}", Detail(svc, nil))
	r.Post("/orders/{reference}/retry", Retry(retrier, nil))
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

const paidOrder = `{"paymentReference":"SF-1","customer":{"email":"ada@example.com"},"paymentMethod":"card","currency":"NGN","items":[],"total":"12000","totalInNaira":"12000"}`

func TestCreateIsIdempotentOnReference(t *testing.T) {
	placer := newStubPlacer()
	router := ordersRouter(nil, placer, nil)

	first := do(router, http.MethodPost, "/orders", paidOrder)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", first.Code, first.Body.String())
	}
	second := do(router, http.MethodPost, "/orders", paidOrder)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.Code)
	}

	var a, b struct {
		Data reconciler.Result `json:"data"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Data.OrderID == nil || b.Data.OrderID == nil || *a.Data.OrderID != *b.Data.OrderID || !b.Data.Existing {
		t.Fatalf("expected the same order, got %+v and %+v", a.Data, b.Data)
	}
	if got := placer.received[0].TotalInNaira.String(); got != "12000" {
		t.Fatalf("unexpected naira total %s", got)
	}
}

func TestCreateRejectsOrdersThePaymentDoesNotCover(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{
			name:   "unpaid reference",
			body:   `{"paymentReference":"SF-2","currency":"NGN","total":"12000"}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "total differs from the charge",
			body:   `{"paymentReference":"SF-1","currency":"NGN","total":"0"}`,
			status: pkgerrors.MetadataFor(pkgerrors.CodePaymentAmount).HTTPStatus,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			placer := newStubPlacer()
			rec := do(ordersRouter(nil, placer, nil), http.MethodPost, "/orders", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if len(placer.created) != 0 {
				t.Fatalf("no order may be created, got %v", placer.created)
			}
		})
	}
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	rec := do(ordersRouter(nil, newStubPlacer(), nil), http.MethodPost, "/orders", `{"paymentReference":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDetailByReference(t *testing.T) {
	svc := &stubOrdersService{created: map[string]uuid.UUID{"SF-2": uuid.New()}}
	router := ordersRouter(svc, nil, nil)

	if rec := do(router, http.MethodGet, "/orders/SF-2", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(router, http.MethodGet, "/orders/SF-404", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRetry(t *testing.T) {
	retrier := &stubRetrier{}
	router := ordersRouter(&stubOrdersService{}, nil, retrier)

	rec := do(router, http.MethodPost, "/orders/SF-3/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(retrier.calls) != 1 || retrier.calls[0] != "SF-3" {
		t.Fatalf("unexpected retry calls %v", retrier.calls)
	}

	retrier.err = pkgerrors.New(pkgerrors.CodeStateConflict, "payment not captured")
	rec = do(router, http.MethodPost, "/orders/SF-3/retry", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}
