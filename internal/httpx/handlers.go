package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/checkout"
	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/discount"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// HeaderUserID carries the authenticated user id set by the gateway. Absent
// means a guest.
const HeaderUserID = "X-User-ID"

type InquiryService interface {
	CreateInquiry(ctx context.Context, req orders.InquiryRequest, userID string, timestamp int64) (orders.Inquiry, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, in checkout.Input) (orders.Order, error)
	HandlePaymentEvent(ctx context.Context, ev orders.PaymentEvent) (orders.Order, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (orders.StatusView, bool, error)
	Set(ctx context.Context, v orders.StatusView) error
}

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
	ListCandidateOffers(ctx context.Context, productID, categoryID int64) ([]orders.Offer, error)
}

type Deps struct {
	Inquiries InquiryService
	Checkout  CheckoutService
	Orders    OrderReader
	Catalog   Catalog
	// Cache is optional.
	Cache StatusCache
}

type Handler struct {
	Deps
	clock    clock.Clock
	log      *zap.Logger
	validate *validator.Validate
}

func NewHandler(d Deps, clk clock.Clock, log *zap.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Deps: d, clock: clk, log: log, validate: v}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/inquiries", h.createInquiry)
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/payments/events", h.paymentEvent)
	r.Get("/products/{id}/price", h.productPrice)
}

type fieldValueReq struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

type inquiryReq struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	PaymentMethodID int64           `json:"payment_method_id" validate:"required,gt=0"`
	VoucherID       *int64          `json:"voucher_id,omitempty" validate:"omitempty,gt=0"`
	InputFields     []fieldValueReq `json:"input_fields" validate:"dive"`
	PaymentPhone    string          `json:"payment_phone,omitempty" validate:"omitempty,numeric,min=8,max=16"`
	// Timestamp defaults to the server clock when zero. Ignored inside a
	// checkout request, which carries its own.
	Timestamp int64 `json:"timestamp,omitempty" validate:"gte=0"`
}

func (r inquiryReq) toDomain() orders.InquiryRequest {
	out := orders.InquiryRequest{
		ProductID:       r.ProductID,
		PaymentMethodID: r.PaymentMethodID,
		VoucherID:       r.VoucherID,
		PaymentPhone:    r.PaymentPhone,
		InputFields:     make([]orders.FieldValue, 0, len(r.InputFields)),
	}
	for _, f := range r.InputFields {
		out.InputFields = append(out.InputFields, orders.FieldValue{Name: f.Name, Value: f.Value})
	}
	return out
}

type inquiryResp struct {
	InquiryID       string    `json:"inquiry_id"`
	Token           string    `json:"token"`
	Timestamp       int64     `json:"timestamp"`
	Price           int64     `json:"price"`
	OfferDiscount   int64     `json:"offer_discount"`
	VoucherDiscount int64     `json:"voucher_discount"`
	DiscountPrice   int64     `json:"discount_price"`
	Fee             int64     `json:"fee"`
	TotalPrice      int64     `json:"total_price"`
	CustomerInput   string    `json:"customer_input"`
	ExpiredAt       time.Time `json:"expired_at"`
}

func (h *Handler) createInquiry(w http.ResponseWriter, r *http.Request) {
	var req inquiryReq
	if !h.decode(w, r, &req) {
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = h.clock.Now().Unix()
	}

	inq, err := h.Inquiries.CreateInquiry(r.Context(), req.toDomain(), r.Header.Get(HeaderUserID), req.Timestamp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inquiryResp{
		InquiryID:       inq.ID,
		Token:           inq.Token,
		Timestamp:       req.Timestamp,
		Price:           inq.Price,
		OfferDiscount:   inq.OfferDiscount,
		VoucherDiscount: inq.VoucherDiscount,
		DiscountPrice:   inq.DiscountPrice,
		Fee:             inq.Fee,
		TotalPrice:      inq.TotalPrice,
		CustomerInput:   inq.CustomerInput,
		ExpiredAt:       inq.ExpiredAt,
	})
}

type checkoutReq struct {
	InquiryID string     `json:"inquiry_id" validate:"required"`
	Request   inquiryReq `json:"request"`
	Timestamp int64      `json:"timestamp" validate:"required,gt=0"`
	Token     string     `json:"token" validate:"required"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.Checkout.Checkout(r.Context(), checkout.Input{
		InquiryID: req.InquiryID,
		Request:   req.Request.toDomain(),
		Timestamp: req.Timestamp,
		Token:     req.Token,
		UserID:    r.Header.Get(HeaderUserID),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.View())
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx := r.Context()

	if h.Cache != nil {
		v, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.log.Warn("order status cache read", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v := o.View()
	// Open orders are read from the database every time; an invalidation
	// racing this read could otherwise leave a stale view cached.
	if h.Cache != nil && v.Settled() {
		if err := h.Cache.Set(ctx, v); err != nil {
			h.log.Warn("order status cache write", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, v)
}

type paymentEventReq struct {
	OrderID   string `json:"order_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	Reference string `json:"reference"`
}

func (h *Handler) paymentEvent(w http.ResponseWriter, r *http.Request) {
	var req paymentEventReq
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.Checkout.HandlePaymentEvent(r.Context(), orders.PaymentEvent{
		OrderID:    req.OrderID,
		Status:     orders.PaymentStatus(req.Status),
		Reference:  req.Reference,
		OccurredAt: h.clock.Now(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type priceResp struct {
	ProductID  int64  `json:"product_id"`
	Price      int64  `json:"price"`
	Discount   int64  `json:"discount"`
	FinalPrice int64  `json:"final_price"`
	OfferID    int64  `json:"offer_id,omitempty"`
	OfferName  string `json:"offer_name,omitempty"`
}

func (h *Handler) productPrice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, err)
		return
	}
	var methodID int64
	if q := r.URL.Query().Get("payment_method_id"); q != "" {
		if methodID, err = strconv.ParseInt(q, 10, 64); err != nil {
			writeBadRequest(w, err)
			return
		}
	}

	ctx := r.Context()
	p, err := h.Catalog.GetProduct(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offers, err := h.Catalog.ListCandidateOffers(ctx, p.ID, p.CategoryID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d := discount.DisplayPrice(p.Price, offers, discount.Usage{
		ProductID:       p.ID,
		CategoryID:      p.CategoryID,
		UserID:          r.Header.Get(HeaderUserID),
		PaymentMethodID: methodID,
	}, h.clock.Now())

	resp := priceResp{ProductID: p.ID, Price: p.Price, Discount: d.Discount, FinalPrice: d.FinalPrice}
	if d.Offer != nil {
		resp.OfferID = d.Offer.ID
		resp.OfferName = d.Offer.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "INVALID_REQUEST"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeBadRequest(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}
