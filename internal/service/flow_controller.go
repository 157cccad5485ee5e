package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/redisclient"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FallbackMessage is returned whenever a turn fails unexpectedly
const FallbackMessage = "No pude procesar tu solicitud de compra. Por favor intenta de nuevo en unos minutos."

var ErrCartEmpty = errors.New("cart is empty")

const (
	searchLimit      = 5
	manualAddressRef = "manual"

	msgSignIn       = "Para continuar con tu compra necesito que inicies sesión en tu cuenta Carpihogar."
	msgCartEmpty    = "Tu carrito está vacío. Agrega productos antes de crear la orden."
	msgInvalidToken = "El código es inválido o expiró. Escribe \"reenviar código\" si necesitas uno nuevo."
	msgHelp         = "Puedo ayudarte a comprar: dime qué producto buscas (por ejemplo \"comprar grifería negra Tokio\"), " +
		"escribe \"comprar\" para finalizar tu carrito o pregúntame por los métodos de pago."
)

// FlowController runs the purchase conversation. It keeps no conversation
// state; every turn is rebuilt from the cart, temp order and token stores.
type FlowController struct {
	carts     CartStore
	catalog   Catalog
	addresses AddressResolver
	temps     TempOrderRepository
	tokens    *TokenService
	logger    *zap.Logger
}

// NewFlowController creates a new flow controller
func NewFlowController(
	carts CartStore,
	catalog Catalog,
	addresses AddressResolver,
	temps TempOrderRepository,
	tokens *TokenService,
) *FlowController {
	return &FlowController{
		carts:     carts,
		catalog:   catalog,
		addresses: addresses,
		temps:     temps,
		tokens:    tokens,
		logger:    util.GetLogger(),
	}
}

// RunPurchaseConversation classifies a free text turn and dispatches it.
// It never fails: errors and panics become the fallback message.
func (c *FlowController) RunPurchaseConversation(ctx context.Context, turn ConversationTurn) FlowResult {
	ctx, span := util.StartSpan(ctx, "FlowController.RunPurchaseConversation")
	defer span.End()

	cls := classifyIntent(turn.Message)
	util.IntentsTotal.WithLabelValues(string(cls.Intent)).Inc()

	return c.guard(string(cls.Intent), func() (*FlowResult, error) {
		return c.converse(ctx, turn.Context(), turn.Message, cls)
	})
}

// RunPurchaseFlowStep runs one explicit step. It never fails.
func (c *FlowController) RunPurchaseFlowStep(ctx context.Context, step Step, cc ConversationContext, in StepInput) FlowResult {
	ctx, span := util.StartSpan(ctx, "FlowController.RunPurchaseFlowStep")
	defer span.End()

	return c.guard(string(step), func() (*FlowResult, error) {
		return c.dispatch(ctx, step, cc, in)
	})
}

func (c *FlowController) guard(label string, run func() (*FlowResult, error)) (result FlowResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Purchase flow panicked",
				zap.String("step", label),
				zap.Any("panic", r))
			result = fallbackResult()
		}
	}()

	res, err := run()
	if err != nil {
		c.logger.Error("Purchase flow failed",
			zap.String("step", label),
			zap.Error(err))
		util.FlowStepsTotal.WithLabelValues(label, "error").Inc()
		return fallbackResult()
	}
	util.FlowStepsTotal.WithLabelValues(label, "ok").Inc()
	return *res
}

func fallbackResult() FlowResult {
	util.FlowFallbacksTotal.Inc()
	return *newResult(FallbackMessage)
}

func (c *FlowController) dispatch(ctx context.Context, step Step, cc ConversationContext, in StepInput) (*FlowResult, error) {
	switch step {
	case StepAddToCart:
		return c.addToCart(ctx, cc, in)
	case StepBuyProcess:
		res, _, err := c.buyProcess(ctx, cc, in)
		return res, err
	case StepAskForMissingData:
		return c.askForMissingData(ctx, cc, in)
	case StepCreateTempOrder:
		res, _, err := c.createTempOrder(ctx, cc, in)
		return res, err
	case StepSendToken:
		return c.sendToken(ctx, cc, in)
	case StepConfirmOrder:
		return c.confirmOrder(ctx, cc, in)
	case StepPaymentHelp:
		return c.paymentHelp(in), nil
	case StepRemoveFromCart:
		return c.removeFromCart(ctx, cc, in)
	default:
		return nil, fmt.Errorf("unhandled step %q", step)
	}
}

func (c *FlowController) converse(ctx context.Context, cc ConversationContext, message string, cls classification) (*FlowResult, error) {
	switch cls.Intent {
	case IntentConfirmCode:
		return c.confirmOrder(ctx, cc, StepInput{Token: cls.Token})
	case IntentResendCode:
		return c.sendToken(ctx, cc, StepInput{})
	case IntentPaymentHelp:
		return c.paymentHelp(StepInput{Text: message}), nil
	case IntentRemoveItem:
		productID, err := c.matchCartItem(ctx, cc, cls.Product)
		if err != nil {
			return nil, err
		}
		return c.removeFromCart(ctx, cc, StepInput{ProductID: productID})
	case IntentChooseAddress:
		return c.chooseAddress(ctx, cc, cls.Shipping)
	case IntentSetQuantity:
		return c.setQuantity(ctx, cc, cls.Quantity)
	case IntentAddToCart:
		return c.addToCart(ctx, cc, StepInput{Query: cls.Product, Quantity: cls.Quantity})
	case IntentCheckout:
		res, _, err := c.buyProcess(ctx, cc, StepInput{})
		return res, err
	default:
		return newResult(msgHelp), nil
	}
}

func (c *FlowController) addToCart(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = strings.TrimSpace(in.Text)
	}
	if query == "" && in.productID() == "" {
		return newResult("¿Qué producto deseas agregar al carrito?"), nil
	}

	var product *models.Product
	if query != "" {
		products, err := c.catalog.SearchProducts(ctx, query, searchLimit)
		if err != nil {
			return nil, fmt.Errorf("product search failed: %w", err)
		}
		if len(products) == 0 {
			return newResult(fmt.Sprintf(
				"No encontré productos que coincidan con \"%s\". ¿Puedes darme el nombre del producto o una referencia?", query)), nil
		}
		product = &products[0]
	} else {
		p, err := c.catalog.GetProductByID(ctx, in.productID())
		if errors.Is(err, store.ErrNotFound) {
			return newResult("No encontré ese producto. ¿Puedes indicarme su nombre?"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("product lookup failed: %w", err)
		}
		product = p
	}

	if product.Stock <= 0 {
		return newResult(fmt.Sprintf("Lo siento, %s está agotado en este momento.", product.Name)), nil
	}

	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}

	line, err := c.carts.AddCartItem(ctx, cartOwner(cc), models.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		PriceUSD:  product.PriceUSD,
		Quantity:  qty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add to cart: %w", err)
	}

	res := newResult(fmt.Sprintf("Agregué %s al carrito. Cantidad: %d (US$ %s c/u).",
		line.Name, line.Quantity, line.PriceUSD.StringFixed(2)))
	res.act(ActionCartAddVisual, map[string]interface{}{
		"productId": line.ProductID,
		"name":      line.Name,
		"quantity":  line.Quantity,
		"priceUSD":  line.PriceUSD.StringFixed(2),
	})
	if in.Quantity <= 0 {
		res.say("¿Cuántas unidades necesitas? Cuando estés listo escribe \"comprar\".")
	}
	return res, nil
}

func (c *FlowController) setQuantity(ctx context.Context, cc ConversationContext, qty int) (*FlowResult, error) {
	if qty <= 0 || qty > maxLineQuantity {
		return newResult(fmt.Sprintf("Indícame una cantidad entre 1 y %d.", maxLineQuantity)), nil
	}

	owner := cartOwner(cc)
	productID, err := c.carts.LastAddedProductID(ctx, owner)
	if errors.Is(err, redisclient.ErrItemNotInCart) {
		return newResult("Tu carrito está vacío. ¿Qué producto deseas comprar?"), nil
	}
	if err != nil {
		return nil, err
	}

	line, err := c.carts.SetCartItemQuantity(ctx, owner, productID, qty)
	if errors.Is(err, redisclient.ErrItemNotInCart) {
		return newResult("Ese producto ya no está en tu carrito. ¿Qué producto deseas comprar?"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set quantity: %w", err)
	}

	res := newResult(fmt.Sprintf("Listo, %s: %d unidades.", line.Name, line.Quantity))
	if err := c.cartUpdated(ctx, owner, res); err != nil {
		return nil, err
	}

	next, _, err := c.buyProcess(ctx, cc, StepInput{Quantity: qty})
	if err != nil {
		return nil, err
	}
	res.merge(next)
	return res, nil
}

// buyProcess checks what is still missing and asks for it
func (c *FlowController) buyProcess(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, MissingData, error) {
	items, err := c.carts.GetCart(ctx, cartOwner(cc))
	if err != nil {
		return nil, MissingData{}, fmt.Errorf("failed to load cart: %w", err)
	}

	var addresses []models.Address
	if cc.CustomerID != "" {
		addresses, err = c.addresses.ListAddresses(ctx, cc.CustomerID)
		if err != nil {
			return nil, MissingData{}, fmt.Errorf("failed to load addresses: %w", err)
		}
	}

	missing := DetectMissing(items, resolveAddressRef(in, addresses), representativeQuantity(items, in.Quantity))
	if cc.CustomerID == "" {
		if len(items) == 0 {
			return askFor(MissingData{NeedQuantity: true}, nil, nil), missing, nil
		}
		return newResult(msgSignIn), missing, nil
	}
	if !missing.Complete() {
		return askFor(missing, items, addresses), missing, nil
	}

	snapshot := models.NewCartSnapshot(items)
	return newResult(fmt.Sprintf("Perfecto, tengo todo lo necesario. Total del carrito: US$ %s más IVA.",
		snapshot.Totals.TotalUSD.StringFixed(2))), missing, nil
}

func (c *FlowController) askForMissingData(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, error) {
	items, err := c.carts.GetCart(ctx, cartOwner(cc))
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	var addresses []models.Address
	if cc.CustomerID != "" {
		if addresses, err = c.addresses.ListAddresses(ctx, cc.CustomerID); err != nil {
			return nil, fmt.Errorf("failed to load addresses: %w", err)
		}
	}

	missing := DetectMissing(items, resolveAddressRef(in, addresses), representativeQuantity(items, in.Quantity))
	if in.Missing != nil {
		missing = *in.Missing
	}
	if missing.Complete() {
		return newResult("No me falta ningún dato. Escribe \"comprar\" para continuar."), nil
	}
	return askFor(missing, items, addresses), nil
}

// askFor phrases one question per missing input
func askFor(missing MissingData, items []models.CartItem, addresses []models.Address) *FlowResult {
	res := newResult()
	if missing.NeedQuantity {
		if len(items) == 0 {
			res.say("Tu carrito está vacío. ¿Qué producto deseas comprar?")
		} else {
			res.say(fmt.Sprintf("¿Cuántas unidades de %s deseas?", items[len(items)-1].Name))
		}
	}
	if missing.NeedAddress {
		if len(addresses) > 0 {
			a := addresses[0]
			res.say(fmt.Sprintf("¿A qué dirección enviamos tu pedido? Tu dirección principal es %s, %s. "+
				"Escribe \"usar mi dirección principal\" o indica otra con \"dirección: calle, ciudad\".", a.AddressLine, a.City))
		} else {
			res.say("Indícame la dirección de envío con el formato \"dirección: calle, ciudad\".")
		}
	}
	return res
}

// chooseAddress resolves the shipping destination and, when nothing else is
// missing, creates the temp order and sends the token in the same turn
func (c *FlowController) chooseAddress(ctx context.Context, cc ConversationContext, manual *models.ShippingData) (*FlowResult, error) {
	if cc.CustomerID == "" {
		return newResult(msgSignIn), nil
	}

	in := StepInput{ShippingData: manual}
	if manual == nil {
		addresses, err := c.addresses.ListAddresses(ctx, cc.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load addresses: %w", err)
		}
		if len(addresses) == 0 {
			return newResult("No tienes direcciones guardadas. Indícame la dirección con el formato \"dirección: calle, ciudad\"."), nil
		}
		in.AddressID = addresses[0].ID
	}

	res, missing, err := c.buyProcess(ctx, cc, in)
	if err != nil || !missing.Complete() {
		return res, err
	}

	created, temp, err := c.createTempOrder(ctx, cc, in)
	if err != nil {
		return nil, err
	}
	res.merge(created)
	if temp == nil {
		return res, nil
	}

	sent, err := c.sendToken(ctx, cc, StepInput{OrderTempID: temp.ID})
	if err != nil {
		return nil, err
	}
	res.merge(sent)
	return res, nil
}

func (c *FlowController) createTempOrder(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, *models.TemporaryOrder, error) {
	if cc.CustomerID == "" {
		return newResult(msgSignIn), nil, nil
	}

	items, err := c.carts.GetCart(ctx, cartOwner(cc))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cart: %w", err)
	}
	snapshot := models.NewCartSnapshot(items)
	if snapshot.IsEmpty() || snapshot.HasInvalidQuantity() {
		util.FlowStepsTotal.WithLabelValues(string(StepCreateTempOrder), "cart_empty").Inc()
		return newResult(msgCartEmpty), nil, nil
	}

	shipping, err := c.resolveShipping(ctx, cc.CustomerID, in)
	if err != nil {
		return nil, nil, err
	}
	if shipping == nil {
		return askFor(MissingData{NeedAddress: true}, items, nil), nil, nil
	}

	temp := &models.TemporaryOrder{
		ID:           uuid.New().String(),
		CustomerID:   cc.CustomerID,
		Items:        snapshot.Items,
		TotalUSD:     snapshot.Totals.TotalUSD,
		ShippingData: *shipping,
	}
	if err := c.temps.CreateTemporaryOrder(ctx, temp); err != nil {
		return nil, nil, fmt.Errorf("failed to create temporary order: %w", err)
	}
	util.TempOrdersCreatedTotal.Inc()
	c.logger.Info("Temporary order created",
		zap.String("order_temp_id", temp.ID),
		zap.String("customer_id", cc.CustomerID),
		zap.Int("items", len(temp.Items)))

	res := newResult(fmt.Sprintf("Creé tu orden por US$ %s más IVA, con envío a %s.",
		temp.TotalUSD.StringFixed(2), shipping.City))
	res.act(ActionOrderTempCreated, map[string]interface{}{
		"orderTempId": temp.ID,
		"totalUSD":    temp.TotalUSD.StringFixed(2),
	})
	return res, temp, nil
}

// resolveShipping returns nil when no destination can be determined
func (c *FlowController) resolveShipping(ctx context.Context, customerID string, in StepInput) (*models.ShippingData, error) {
	if in.ShippingData != nil && in.ShippingData.City != "" && in.ShippingData.AddressLine != "" {
		sd := *in.ShippingData
		return &sd, nil
	}

	addresses, err := c.addresses.ListAddresses(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load addresses: %w", err)
	}
	for i := range addresses {
		if in.AddressID == "" || addresses[i].ID == in.AddressID {
			sd := models.ShippingDataFromAddress(&addresses[i])
			return &sd, nil
		}
	}
	return nil, nil
}

func (c *FlowController) sendToken(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, error) {
	if cc.CustomerID == "" {
		return newResult(msgSignIn), nil
	}

	var temp *models.TemporaryOrder
	var err error
	if in.OrderTempID != "" {
		temp, err = c.temps.GetTemporaryOrder(ctx, in.OrderTempID)
		if err == nil && temp.CustomerID != cc.CustomerID {
			err = store.ErrNotFound
		}
	} else {
		temp, err = c.temps.LatestTemporaryOrder(ctx, cc.CustomerID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newResult("No tienes una orden pendiente de confirmar. Escribe \"comprar\" para iniciar tu compra."), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load temporary order: %w", err)
	}

	issued, err := c.tokens.Issue(ctx, cc.CustomerID, temp.ID)
	if errors.Is(err, ErrMissingPhone) {
		return newResult("No tenemos un número de teléfono en tu cuenta. Agrégalo en tu perfil para recibir el código de confirmación por WhatsApp."), nil
	}
	if err != nil {
		return nil, err
	}

	if !issued.Delivered {
		return newResult("No pude enviarte el código por WhatsApp en este momento. Escribe \"reenviar código\" en unos minutos."), nil
	}

	res := newResult(fmt.Sprintf("Te enviamos un código de 6 dígitos por WhatsApp (%s). Escríbelo aquí para confirmar tu compra; vence en %d minutos.",
		issued.Preview, int(c.tokens.TTL().Minutes())))
	res.act(ActionTokenSent, map[string]interface{}{
		"orderTempId": issued.OrderTempID,
		"preview":     issued.Preview,
		"expiresAt":   issued.ExpiresAt,
	})
	return res, nil
}

func (c *FlowController) confirmOrder(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, error) {
	if cc.CustomerID == "" {
		return newResult(msgSignIn), nil
	}

	result, err := c.tokens.Verify(ctx, cc.CustomerID, in.Token)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return newResult(msgInvalidToken), nil
	}

	order := result.Order
	res := newResult(
		fmt.Sprintf("¡Listo! Tu pedido #%s fue confirmado. Total: US$ %s (Bs. %s), IVA incluido.",
			order.Reference(), order.TotalUSD.StringFixed(2), order.TotalVES.StringFixed(2)),
		"Selecciona tu método de pago para completar la compra.",
	)
	res.act(ActionShowPaymentForm, map[string]interface{}{
		"orderId":   order.ID,
		"reference": order.Reference(),
		"totalUSD":  order.TotalUSD.StringFixed(2),
		"totalVES":  order.TotalVES.StringFixed(2),
		"methods":   []PaymentMethod{PaymentZelle, PaymentPagoMovil, PaymentTransferencia},
	})
	return res, nil
}

func (c *FlowController) paymentHelp(in StepInput) *FlowResult {
	_, texts := PaymentHelp(in.Text)
	return newResult(texts...)
}

func (c *FlowController) removeFromCart(ctx context.Context, cc ConversationContext, in StepInput) (*FlowResult, error) {
	productID := in.productID()
	if productID == "" {
		return newResult("¿Qué producto deseas quitar del carrito? Indícame cuál."), nil
	}

	owner := cartOwner(cc)
	err := c.carts.RemoveCartItem(ctx, owner, productID)
	if errors.Is(err, redisclient.ErrItemNotInCart) {
		return newResult("Ese producto no está en tu carrito."), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove from cart: %w", err)
	}

	res := newResult("Listo, quité el producto de tu carrito.")
	if err := c.cartUpdated(ctx, owner, res); err != nil {
		return nil, err
	}
	return res, nil
}

// matchCartItem finds the cart line whose name contains every query word
func (c *FlowController) matchCartItem(ctx context.Context, cc ConversationContext, query string) (string, error) {
	if query == "" {
		return "", nil
	}
	items, err := c.carts.GetCart(ctx, cartOwner(cc))
	if err != nil {
		return "", fmt.Errorf("failed to load cart: %w", err)
	}
	for _, item := range items {
		name := strings.Join(wordsOf(item.Name), " ")
		matched := true
		for _, w := range strings.Fields(query) {
			if !containsWord(name, w) {
				matched = false
				break
			}
		}
		if matched {
			return item.ProductID, nil
		}
	}
	return "", nil
}

func (c *FlowController) cartUpdated(ctx context.Context, owner string, res *FlowResult) error {
	items, err := c.carts.GetCart(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}
	snapshot := models.NewCartSnapshot(items)
	res.act(ActionCartUpdated, map[string]interface{}{
		"items":  snapshot.Items,
		"totals": snapshot.Totals,
	})
	return nil
}

func cartOwner(cc ConversationContext) string {
	return redisclient.CartOwner(cc.CustomerID, cc.SessionID)
}

// representativeQuantity is the explicit quantity, or that of the newest line
func representativeQuantity(items []models.CartItem, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if len(items) == 0 {
		return 0
	}
	return items[len(items)-1].Quantity
}

// resolveAddressRef returns a non-empty reference when a destination was chosen
func resolveAddressRef(in StepInput, addresses []models.Address) string {
	if in.ShippingData != nil && in.ShippingData.City != "" && in.ShippingData.AddressLine != "" {
		return manualAddressRef
	}
	for _, a := range addresses {
		if a.ID == in.AddressID {
			return a.ID
		}
	}
	return ""
}
