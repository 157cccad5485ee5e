package service

import (
	"context"
	"testing"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(r FlowResult) []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Content
	}
	return out
}

func TestPurchaseConversationEndToEnd(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	turn := func(msg string) FlowResult {
		return f.flow.RunPurchaseConversation(ctx, ConversationTurn{CustomerID: customerID, SessionID: sessionID, Message: msg})
	}

	res := turn("Comprar grifería negra Tokio")
	require.True(t, res.HasAction(ActionCartAddVisual))
	assert.Contains(t, res.Messages[0].Content, "Grifería Negra Tokio")
	assert.Contains(t, res.Messages[0].Content, "Cantidad: 1")

	res = turn("2")
	require.True(t, res.HasAction(ActionCartUpdated))
	assert.Contains(t, res.Messages[0].Content, "2 unidades")
	items, _ := f.carts.GetCart(ctx, redisclient.CartOwner(customerID, sessionID))
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Contains(t, contents(res)[len(res.Messages)-1], "dirección principal")

	res = turn("Usar mi dirección principal")
	require.True(t, res.HasAction(ActionOrderTempCreated), contents(res))
	require.True(t, res.HasAction(ActionTokenSent), contents(res))
	require.Equal(t, 1, f.temps.count())
	assert.Equal(t, "Barinas", f.temps.temps[0].ShippingData.City)

	code := f.messenger.lastCode()
	require.Len(t, code, 6)
	for _, m := range res.Messages {
		assert.NotContains(t, m.Content, code)
	}

	res = turn(code)
	require.True(t, res.HasAction(ActionShowPaymentForm), contents(res))
	require.Equal(t, 1, f.orders.count())

	order, err := f.orderSvc.LatestPendingOrder(ctx, customerID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "105.56", order.TotalUSD.StringFixed(2))
	assert.Len(t, f.bus.named(models.EventOrderConfirmed), 1)

	res = turn(code)
	assert.False(t, res.HasAction(ActionShowPaymentForm))
	assert.Equal(t, msgInvalidToken, res.Messages[0].Content)
	assert.Equal(t, 1, f.orders.count())
}

func TestCreateTempOrderWithEmptyCart(t *testing.T) {
	f := newFixture(true)

	res := f.flow.RunPurchaseFlowStep(context.Background(), StepCreateTempOrder,
		ConversationContext{CustomerID: customerID, SessionID: sessionID}, StepInput{AddressID: "addr-1"})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, msgCartEmpty, res.Messages[0].Content)
	assert.Empty(t, res.UIActions)
	assert.Zero(t, f.temps.count())
}

func TestBuyProcessAsksForBothMissingInputs(t *testing.T) {
	f := newFixture(true)
	cc := ConversationContext{CustomerID: customerID, SessionID: sessionID}
	ctx := context.Background()

	res := f.flow.RunPurchaseFlowStep(ctx, StepBuyProcess, cc, StepInput{})
	require.Len(t, res.Messages, 2)
	assert.Contains(t, res.Messages[0].Content, "carrito está vacío")
	assert.Contains(t, res.Messages[1].Content, "Av. Cuatricentenaria 12")

	f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "lavamanos roma", Quantity: 1})
	res = f.flow.RunPurchaseFlowStep(ctx, StepBuyProcess, cc, StepInput{AddressID: "addr-1"})
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Content, "80.00")
}

func TestAskForMissingDataHonorsExplicitFlags(t *testing.T) {
	f := newFixture(true)
	cc := ConversationContext{CustomerID: customerID, SessionID: sessionID}

	res := f.flow.RunPurchaseFlowStep(context.Background(), StepAskForMissingData, cc,
		StepInput{Missing: &MissingData{NeedAddress: true}})
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Content, "dirección")
}

func TestAnonymousSessionCanBuildCartButNotCheckout(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	anon := ConversationTurn{SessionID: "anon-1"}

	anon.Message = "quiero 2 lavamanos roma"
	res := f.flow.RunPurchaseConversation(ctx, anon)
	require.True(t, res.HasAction(ActionCartAddVisual))
	items, _ := f.carts.GetCart(ctx, redisclient.CartOwner("", "anon-1"))
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)

	anon.Message = "comprar"
	res = f.flow.RunPurchaseConversation(ctx, anon)
	assert.Equal(t, msgSignIn, res.Messages[0].Content)

	res = f.flow.RunPurchaseFlowStep(ctx, StepCreateTempOrder, anon.Context(), StepInput{})
	assert.Equal(t, msgSignIn, res.Messages[0].Content)
	assert.Zero(t, f.temps.count())
}

func TestAddToCartClarifiesUnknownProduct(t *testing.T) {
	f := newFixture(true)
	cc := ConversationContext{SessionID: sessionID}

	res := f.flow.RunPurchaseFlowStep(context.Background(), StepAddToCart, cc, StepInput{Query: "jacuzzi dorado"})
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Content, "No encontré")
	assert.Empty(t, res.UIActions)

	res = f.flow.RunPurchaseFlowStep(context.Background(), StepAddToCart, cc, StepInput{Query: "regadera"})
	assert.Contains(t, res.Messages[0].Content, "agotado")
}

func TestRemoveFromCart(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	cc := ConversationContext{CustomerID: customerID, SessionID: sessionID}

	res := f.flow.RunPurchaseFlowStep(ctx, StepRemoveFromCart, cc, StepInput{})
	assert.Contains(t, res.Messages[0].Content, "¿Qué producto deseas quitar")

	f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "griferia tokio", Quantity: 1})
	res = f.flow.RunPurchaseFlowStep(ctx, StepRemoveFromCart, cc, StepInput{Entities: map[string]string{"productId": "p-tokio"}})
	require.True(t, res.HasAction(ActionCartUpdated))

	f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "griferia tokio", Quantity: 1})
	res = f.flow.RunPurchaseConversation(ctx, ConversationTurn{CustomerID: customerID, SessionID: sessionID, Message: "quitar la grifería tokio del carrito"})
	require.True(t, res.HasAction(ActionCartUpdated), contents(res))
	items, _ := f.carts.GetCart(ctx, redisclient.CartOwner(customerID, sessionID))
	assert.Empty(t, items)
}

func TestSendTokenWithoutPhone(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	cc := ConversationContext{CustomerID: "cust-nophone", SessionID: sessionID}

	f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "lavamanos", Quantity: 1})
	res := f.flow.RunPurchaseFlowStep(ctx, StepCreateTempOrder, cc, StepInput{AddressID: "addr-2"})
	require.True(t, res.HasAction(ActionOrderTempCreated))

	res = f.flow.RunPurchaseFlowStep(ctx, StepSendToken, cc, StepInput{})
	assert.Contains(t, res.Messages[0].Content, "número de teléfono")
	assert.Empty(t, f.messenger.messages())
}

func TestSendTokenWhenWhatsAppFails(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	cc := ConversationContext{CustomerID: customerID, SessionID: sessionID}
	f.messenger.fail = true

	f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "lavamanos", Quantity: 1})
	f.flow.RunPurchaseFlowStep(ctx, StepCreateTempOrder, cc, StepInput{})
	res := f.flow.RunPurchaseFlowStep(ctx, StepSendToken, cc, StepInput{})

	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Content, "reenviar código")
	assert.False(t, res.HasAction(ActionTokenSent))
}

func TestSendTokenRejectsForeignTempOrder(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	f.seedToken(ctx)

	res := f.flow.RunPurchaseFlowStep(ctx, StepSendToken,
		ConversationContext{CustomerID: "cust-nophone"}, StepInput{OrderTempID: "temp-1"})
	assert.Contains(t, res.Messages[0].Content, "No tienes una orden pendiente")
}

func TestFlowFallsBackOnErrorsAndPanics(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	cc := ConversationContext{SessionID: sessionID}

	f.catalog.err = errBoom
	res := f.flow.RunPurchaseFlowStep(ctx, StepAddToCart, cc, StepInput{Query: "tokio"})
	assert.Equal(t, []string{FallbackMessage}, contents(res))

	f.catalog.err = nil
	f.catalog.panicky = true
	res = f.flow.RunPurchaseConversation(ctx, ConversationTurn{SessionID: sessionID, Message: "comprar grifería tokio"})
	assert.Equal(t, []string{FallbackMessage}, contents(res))
	assert.Empty(t, res.UIActions)
}

func TestPaymentHelpStep(t *testing.T) {
	f := newFixture(true)
	cc := ConversationContext{SessionID: sessionID}

	res := f.flow.RunPurchaseFlowStep(context.Background(), StepPaymentHelp, cc, StepInput{Text: "Quiero pagar por ZELLE"})
	require.Len(t, res.Messages, 2)
	assert.Contains(t, res.Messages[0].Content, "Zelle")
	assert.Equal(t, paymentReminder, res.Messages[1].Content)

	res = f.flow.RunPurchaseFlowStep(context.Background(), StepPaymentHelp, cc, StepInput{Text: "no sé cuál usar"})
	assert.Equal(t, []string{paymentMenu}, contents(res))
}

func TestResultShape(t *testing.T) {
	f := newFixture(true)
	res := f.flow.RunPurchaseConversation(context.Background(), ConversationTurn{SessionID: sessionID, Message: "hola"})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, "assistant", res.Messages[0].Role)
	assert.Equal(t, "text", res.Messages[0].Type)
	assert.Equal(t, msgHelp, res.Messages[0].Content)

	res = f.flow.RunPurchaseFlowStep(context.Background(), StepAddToCart, ConversationContext{SessionID: sessionID}, StepInput{Query: "tokio"})
	require.NotEmpty(t, res.UIActions)
	assert.Equal(t, "ui_control", res.UIActions[0].Type)
}

func TestParseStep(t *testing.T) {
	for _, s := range Steps {
		parsed, err := ParseStep(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStep("teleport")
	assert.Error(t, err)
}
