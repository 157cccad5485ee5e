package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		message  string
		intent   Intent
		product  string
		quantity int
	}{
		{"Comprar grifería negra Tokio", IntentAddToCart, "griferia negra tokio", 0},
		{"quiero 3 lavamanos roma por favor", IntentAddToCart, "lavamanos roma", 3},
		{"agrégame un lavamanos al carrito", IntentAddToCart, "lavamanos", 0},
		{"comprar", IntentCheckout, "", 0},
		{"quiero finalizar mi compra", IntentCheckout, "", 0},
		{"2", IntentSetQuantity, "", 2},
		{"5 unidades", IntentSetQuantity, "", 5},
		{"Usar mi dirección principal", IntentChooseAddress, "", 0},
		{"quitar la grifería tokio del carrito", IntentRemoveItem, "griferia tokio", 0},
		{"elimina eso", IntentRemoveItem, "eso", 0},
		{"¿Cómo puedo pagar?", IntentPaymentHelp, "", 0},
		{"pago móvil", IntentPaymentHelp, "", 0},
		{"no me llegó el código", IntentResendCode, "", 0},
		{"reenviar código", IntentResendCode, "", 0},
		{"hola", IntentUnknown, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			cls := classifyIntent(tt.message)
			assert.Equal(t, tt.intent, cls.Intent)
			assert.Equal(t, tt.product, cls.Product)
			assert.Equal(t, tt.quantity, cls.Quantity)
		})
	}
}

func TestClassifyIntentToken(t *testing.T) {
	cls := classifyIntent("mi código es 583920")
	assert.Equal(t, IntentConfirmCode, cls.Intent)
	assert.Equal(t, "583920", cls.Token)

	cls = classifyIntent("583920")
	assert.Equal(t, IntentConfirmCode, cls.Intent)

	cls = classifyIntent("quiero 100000 tornillos")
	assert.Equal(t, IntentAddToCart, cls.Intent)
	assert.Equal(t, "100000 tornillos", cls.Product)
}

func TestClassifyIntentFreeformAddress(t *testing.T) {
	cls := classifyIntent("Dirección: Calle 5 con Av. Bolívar, Edif. Sol, Mérida")
	require.Equal(t, IntentChooseAddress, cls.Intent)
	require.NotNil(t, cls.Shipping)
	assert.Equal(t, "Mérida", cls.Shipping.City)
	assert.Equal(t, "Calle 5 con Av. Bolívar, Edif. Sol", cls.Shipping.AddressLine)

	cls = classifyIntent("enviar a: Barinas")
	require.NotNil(t, cls.Shipping)
	assert.Equal(t, "Barinas", cls.Shipping.City)
	assert.Equal(t, "Barinas", cls.Shipping.AddressLine)
}

func TestClassifyPaymentMethod(t *testing.T) {
	assert.Equal(t, PaymentZelle, ClassifyPaymentMethod("Pagaré por ZELLE"))
	assert.Equal(t, PaymentPagoMovil, ClassifyPaymentMethod("por pago móvil"))
	assert.Equal(t, PaymentTransferencia, ClassifyPaymentMethod("hago una transferencia"))
	assert.Equal(t, PaymentUnknown, ClassifyPaymentMethod("efectivo"))
	assert.Equal(t, PaymentTransferencia, ClassifyPaymentMethod("TRANSFERENCIAS bancarias"))
	assert.Equal(t, PaymentPagoMovil, ClassifyPaymentMethod("pagomóvil"))
	assert.Equal(t, PaymentUnknown, ClassifyPaymentMethod("te escribo a las 3 pm"))
	assert.Equal(t, PaymentUnknown, ClassifyPaymentMethod("no sé cuál usar"))
}

func TestPaymentHelp(t *testing.T) {
	method, texts := PaymentHelp("transferencia")
	assert.Equal(t, PaymentTransferencia, method)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Banesco")

	method, texts = PaymentHelp("¿qué opciones tengo?")
	assert.Equal(t, PaymentUnknown, method)
	assert.Equal(t, []string{paymentMenu}, texts)
}
