package service

import "carpihogar-assistant/internal/util"

// PaymentMethod is a supported way to pay an order
type PaymentMethod string

const (
	PaymentZelle         PaymentMethod = "ZELLE"
	PaymentPagoMovil     PaymentMethod = "PAGO_MOVIL"
	PaymentTransferencia PaymentMethod = "TRANSFERENCIA"
	PaymentUnknown       PaymentMethod = ""
)

var paymentKeywords = []struct {
	method   PaymentMethod
	keywords []string
}{
	{PaymentZelle, []string{"zelle"}},
	{PaymentPagoMovil, []string{"pago movil", "pagomovil"}},
	{PaymentTransferencia, []string{"transferencia", "transferir", "deposito"}},
}

var paymentInstructions = map[PaymentMethod]string{
	PaymentZelle: "Para pagar con Zelle envía el monto en USD a pagos@carpihogar.com a nombre de Carpihogar C.A. " +
		"Luego registra la referencia de la operación en el formulario de pago.",
	PaymentPagoMovil: "Para Pago Móvil usa Banesco (0134), RIF J-40123456-7, teléfono 0414-0000000. " +
		"El monto en bolívares se calcula a la tasa del día indicada en tu pedido.",
	PaymentTransferencia: "Para transferencia bancaria usa la cuenta corriente Banesco 0134-0000-00-0000000000 " +
		"a nombre de Carpihogar C.A., RIF J-40123456-7.",
}

const (
	paymentReminder = "Recuerda conservar el comprobante; confirmaremos tu pago y te avisaremos por WhatsApp."
	paymentMenu     = "Aceptamos estos métodos de pago: Zelle, Pago Móvil y Transferencia bancaria. ¿Con cuál deseas pagar?"
)

// ClassifyPaymentMethod matches known keywords as substrings, ignoring case and accents
func ClassifyPaymentMethod(text string) PaymentMethod {
	for _, entry := range paymentKeywords {
		if util.ContainsAny(text, entry.keywords...) {
			return entry.method
		}
	}
	return PaymentUnknown
}

// PaymentHelp returns the instructional copy for the method named in text
func PaymentHelp(text string) (PaymentMethod, []string) {
	method := ClassifyPaymentMethod(text)
	if method == PaymentUnknown {
		return method, []string{paymentMenu}
	}
	return method, []string{paymentInstructions[method], paymentReminder}
}
