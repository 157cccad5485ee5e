package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/redisclient"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"github.com/shopspring/decimal"
)

// fakeCarts keeps carts in memory in insertion order
type fakeCarts struct {
	mu    sync.Mutex
	lines map[string][]models.CartItem
	last  map[string]string
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{lines: map[string][]models.CartItem{}, last: map[string]string{}}
}

func (f *fakeCarts) AddCartItem(ctx context.Context, owner string, item models.CartItem) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[owner] = item.ProductID
	for i := range f.lines[owner] {
		if f.lines[owner][i].ProductID == item.ProductID {
			f.lines[owner][i].Quantity += item.Quantity
			line := f.lines[owner][i]
			return &line, nil
		}
	}
	f.lines[owner] = append(f.lines[owner], item)
	return &item, nil
}

func (f *fakeCarts) SetCartItemQuantity(ctx context.Context, owner, productID string, quantity int) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.lines[owner] {
		if f.lines[owner][i].ProductID == productID {
			f.lines[owner][i].Quantity = quantity
			line := f.lines[owner][i]
			return &line, nil
		}
	}
	return nil, redisclient.ErrItemNotInCart
}

func (f *fakeCarts) RemoveCartItem(ctx context.Context, owner, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, line := range f.lines[owner] {
		if line.ProductID == productID {
			f.lines[owner] = append(f.lines[owner][:i], f.lines[owner][i+1:]...)
			return nil
		}
	}
	return redisclient.ErrItemNotInCart
}

func (f *fakeCarts) GetCart(ctx context.Context, owner string) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartItem(nil), f.lines[owner]...), nil
}

func (f *fakeCarts) LastAddedProductID(ctx context.Context, owner string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.last[owner]
	if !ok {
		return "", redisclient.ErrItemNotInCart
	}
	return id, nil
}

func (f *fakeCarts) ClearCart(ctx context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lines, owner)
	delete(f.last, owner)
	return nil
}

// fakeCatalog matches products whose folded name contains every query word
type fakeCatalog struct {
	products []models.Product
	err      error
	panicky  bool
}

func (f *fakeCatalog) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	if f.panicky {
		panic("catalog exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Product
	for _, p := range f.products {
		name := util.FoldText(p.Name)
		matched := true
		for _, w := range strings.Fields(util.FoldText(query)) {
			if !strings.Contains(name, w) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

// fakeDirectory stores customers and their addresses
type fakeDirectory struct {
	customers map[string]models.Customer
	addresses map[string][]models.Address
}

func (f *fakeDirectory) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (f *fakeDirectory) FindCustomerByPhone(ctx context.Context, variants []string) (*models.Customer, error) {
	for _, c := range f.customers {
		phone := messaging.NormalizePhone(c.Phone)
		for _, v := range variants {
			if phone != "" && phone == v {
				c := c
				return &c, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDirectory) ListAddresses(ctx context.Context, userID string) ([]models.Address, error) {
	return f.addresses[userID], nil
}

// fakeTemps stores temporary orders
type fakeTemps struct {
	mu    sync.Mutex
	temps []models.TemporaryOrder
}

func (f *fakeTemps) CreateTemporaryOrder(ctx context.Context, t *models.TemporaryOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedAt = time.Now()
	f.temps = append(f.temps, *t)
	return nil
}

func (f *fakeTemps) GetTemporaryOrder(ctx context.Context, id string) (*models.TemporaryOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.temps {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTemps) LatestTemporaryOrder(ctx context.Context, customerID string) (*models.TemporaryOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.temps) - 1; i >= 0; i-- {
		if f.temps[i].CustomerID == customerID {
			t := f.temps[i]
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTemps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.temps)
}

// fakeTokens consumes tokens under a mutex, like the row lock in Postgres
type fakeTokens struct {
	mu     sync.Mutex
	tokens []models.PurchaseToken
}

func (f *fakeTokens) CreatePurchaseToken(ctx context.Context, t *models.PurchaseToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.tokens {
		if f.tokens[i].CustomerID == t.CustomerID && !f.tokens[i].Used && f.tokens[i].ExpiresAt.After(now) {
			f.tokens[i].ExpiresAt = now
		}
	}
	t.CreatedAt = now
	f.tokens = append(f.tokens, *t)
	return nil
}

func (f *fakeTokens) ConsumePurchaseToken(ctx context.Context, customerID, code string, now time.Time) (*models.PurchaseToken, error) {
	return f.consume(func(t models.PurchaseToken) bool {
		return t.CustomerID == customerID && t.Token == code && !t.Used && t.ExpiresAt.After(now)
	})
}

func (f *fakeTokens) ConsumeLatestPurchaseToken(ctx context.Context, customerID string, now time.Time) (*models.PurchaseToken, error) {
	return f.consume(func(t models.PurchaseToken) bool {
		return t.CustomerID == customerID && !t.Used && t.ExpiresAt.After(now)
	})
}

func (f *fakeTokens) consume(match func(models.PurchaseToken) bool) (*models.PurchaseToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tokens) - 1; i >= 0; i-- {
		if match(f.tokens[i]) {
			now := time.Now()
			f.tokens[i].Used = true
			f.tokens[i].UsedAt = &now
			t := f.tokens[i]
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTokens) ExpirePurchaseTokens(ctx context.Context, customerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var n int64
	for i := range f.tokens {
		if f.tokens[i].CustomerID == customerID && !f.tokens[i].Used && f.tokens[i].ExpiresAt.After(now) {
			f.tokens[i].ExpiresAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) get(id string) models.PurchaseToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			return t
		}
	}
	return models.PurchaseToken{}
}

// fakeOrders stores orders and enforces one order per temp order
type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	items     map[string][]models.OrderItem
	settings  models.SiteSettings
	createErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders: map[string]*models.Order{},
		items:  map[string][]models.OrderItem{},
		settings: models.SiteSettings{
			IVAPercent: decimal.NewFromInt(16),
			TasaVES:    decimal.RequireFromString("36.5"),
		},
	}
}

func (f *fakeOrders) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, o := range f.orders {
		if o.OrderTempID == order.OrderTempID {
			return store.ErrDuplicate
		}
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	o := *order
	f.orders[order.ID] = &o
	f.items[order.ID] = items
	return nil
}

func (f *fakeOrders) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

func (f *fakeOrders) LatestOrderByStatus(ctx context.Context, customerID, status string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*models.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID && o.Status == status {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	cp := *matches[0]
	return &cp, nil
}

func (f *fakeOrders) MarkOrderPaid(ctx context.Context, orderID, paymentMethod string) (*models.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if o.Status != models.OrderStatusPending {
		cp := *o
		return &cp, false, nil
	}
	o.Status = models.OrderStatusPaid
	o.PaymentMethod = paymentMethod
	cp := *o
	return &cp, true, nil
}

func (f *fakeOrders) GetSiteSettings(ctx context.Context) (*models.SiteSettings, error) {
	s := f.settings
	return &s, nil
}

func (f *fakeOrders) add(o models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	f.orders[o.ID] = &o
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// fakeShipping serializes mutations per repository, mirroring the order row lock
type fakeShipping struct {
	mu        sync.Mutex
	rows      map[string]models.Shipping
	knownIDs  map[string]bool
	mutations int
}

func newFakeShipping(orderIDs ...string) *fakeShipping {
	f := &fakeShipping{rows: map[string]models.Shipping{}, knownIDs: map[string]bool{}}
	for _, id := range orderIDs {
		f.knownIDs[id] = true
	}
	return f
}

func (f *fakeShipping) GetShipping(ctx context.Context, orderID string) (*models.Shipping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.rows[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sh, nil
}

func (f *fakeShipping) MutateShipping(ctx context.Context, orderID string, mutate store.ShippingMutation) (*models.Shipping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.knownIDs[orderID] {
		return nil, store.ErrNotFound
	}
	var current *models.Shipping
	if sh, ok := f.rows[orderID]; ok {
		current = &sh
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	next.OrderID = orderID
	f.rows[orderID] = *next
	f.mutations++
	saved := *next
	return &saved, nil
}

// fakeMessenger records outbound messages
type fakeMessenger struct {
	mu   sync.Mutex
	sent []messaging.OutboundMessage
	fail bool
}

func (f *fakeMessenger) SendWhatsAppMessage(ctx context.Context, msg messaging.OutboundMessage) messaging.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return messaging.SendResult{OK: false}
	}
	f.sent = append(f.sent, msg)
	return messaging.SendResult{OK: true}
}

func (f *fakeMessenger) messages() []messaging.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messaging.OutboundMessage(nil), f.sent...)
}

var sentCodePattern = regexp.MustCompile(`\b\d{6}\b`)

func (f *fakeMessenger) lastCode() string {
	msgs := f.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if code := sentCodePattern.FindString(msgs[i].Text); code != "" {
			return code
		}
	}
	return ""
}

// recordingBus records events and runs handlers inline
type recordingBus struct {
	mu       sync.Mutex
	events   []eventbus.Event
	handlers map[string][]eventbus.Handler
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: map[string][]eventbus.Handler{}}
}

func (b *recordingBus) Publish(ctx context.Context, event eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := append([]eventbus.Handler(nil), b.handlers[event.Name]...)
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, event)
	}
}

func (b *recordingBus) Subscribe(name string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

func (b *recordingBus) named(name string) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Event
	for _, e := range b.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeIdempotency claims keys in memory
type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (f *fakeIdempotency) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

// fakeAttempts counts attempts per key without expiry
type fakeAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeAttempts) CountAttempt(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeAttempts) ResetAttempts(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	return nil
}

var errBoom = errors.New("boom")

// fixture wires every service on top of the fakes
type fixture struct {
	carts     *fakeCarts
	catalog   *fakeCatalog
	directory *fakeDirectory
	temps     *fakeTemps
	tokens    *fakeTokens
	orders    *fakeOrders
	messenger *fakeMessenger
	bus       *recordingBus
	idem      *fakeIdempotency
	attempts  *fakeAttempts

	orderSvc *OrderService
	tokenSvc *TokenService
	flow     *FlowController
	webhook  *WebhookService
}

const (
	customerID      = "cust-1"
	sessionID       = "sess-1"
	maxTestAttempts = 5
)

func newFixture(allowPhrase bool) *fixture {
	f := &fixture{
		carts: newFakeCarts(),
		catalog: &fakeCatalog{products: []models.Product{
			{ID: "p-tokio", Name: "Grifería Negra Tokio", PriceUSD: decimal.RequireFromString("45.50"), Stock: 10},
			{ID: "p-lava", Name: "Lavamanos Blanco Roma", PriceUSD: decimal.NewFromInt(80), Stock: 3},
			{ID: "p-agotado", Name: "Regadera Cromada", PriceUSD: decimal.NewFromInt(20), Stock: 0},
		}},
		directory: &fakeDirectory{
			customers: map[string]models.Customer{
				customerID:     {ID: customerID, Name: "María Pérez", Phone: "0414-1234567"},
				"cust-nophone": {ID: "cust-nophone", Name: "Sin Teléfono"},
			},
			addresses: map[string][]models.Address{
				customerID: {
					{ID: "addr-1", UserID: customerID, FullName: "María Pérez", City: "Barinas", AddressLine: "Av. Cuatricentenaria 12", IsDefault: true},
				},
				"cust-nophone": {
					{ID: "addr-2", UserID: "cust-nophone", City: "Caracas", AddressLine: "Calle 1"},
				},
			},
		},
		temps:     &fakeTemps{},
		tokens:    &fakeTokens{},
		orders:    newFakeOrders(),
		messenger: &fakeMessenger{},
		bus:       newRecordingBus(),
		idem:      &fakeIdempotency{},
		attempts:  &fakeAttempts{},
	}
	f.orderSvc = NewOrderService(f.orders, f.orders, f.bus)
	f.tokenSvc = NewTokenService(f.tokens, f.temps, f.directory, f.orderSvc, f.messenger,
		f.attempts, maxTestAttempts, 10*time.Minute)
	f.flow = NewFlowController(f.carts, f.catalog, f.directory, f.temps, f.tokenSvc)
	f.webhook = NewWebhookService(f.directory, f.orderSvc, f.tokenSvc, f.messenger, f.idem, allowPhrase)
	return f
}

// seedToken creates a temp order with one item and issues a token for it
func (f *fixture) seedToken(ctx context.Context) (tempID, code string) {
	temp := &models.TemporaryOrder{
		ID:         "temp-1",
		CustomerID: customerID,
		Items: models.CartItems{
			{ProductID: "p-tokio", Name: "Grifería Negra Tokio", PriceUSD: decimal.RequireFromString("45.50"), Quantity: 2},
		},
		TotalUSD:     decimal.RequireFromString("91.00"),
		ShippingData: models.ShippingData{City: "Barinas", AddressLine: "Av. Cuatricentenaria 12"},
	}
	_ = f.temps.CreateTemporaryOrder(ctx, temp)
	if _, err := f.tokenSvc.Issue(ctx, customerID, temp.ID); err != nil {
		panic(err)
	}
	return temp.ID, f.messenger.lastCode()
}
