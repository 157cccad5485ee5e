package service

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/util"
)

// Intent is the classified purpose of a free text turn
type Intent string

const (
	IntentConfirmCode   Intent = "confirm_code"
	IntentResendCode    Intent = "resend_code"
	IntentPaymentHelp   Intent = "payment_help"
	IntentRemoveItem    Intent = "remove_item"
	IntentChooseAddress Intent = "choose_address"
	IntentSetQuantity   Intent = "set_quantity"
	IntentAddToCart     Intent = "add_to_cart"
	IntentCheckout      Intent = "checkout"
	IntentUnknown       Intent = "unknown"
)

const maxLineQuantity = 999

var (
	quantityPattern = regexp.MustCompile(`^(\d{1,3})\s*(?:unidades?|uds?|u|piezas?|pzas?)?\.?$`)
	freeformAddress = regexp.MustCompile(`(?i)^\s*(?:direcci[oó]n(?:\s+de\s+env[ií]o)?|enviar\s+a)\s*:\s*(.+)$`)

	resendPhrases  = []string{"reenviar", "reenvia", "reenviame", "otro codigo", "nuevo codigo", "no me llego"}
	paymentPhrases = []string{"pagar", "pago", "pagos", "zelle", "pago movil", "transferencia", "metodo de pago", "metodos de pago"}
	removeVerbs    = []string{"quitar", "quita", "quitame", "eliminar", "elimina", "sacar", "saca", "borrar", "borra", "remover"}
	addressPhrases = []string{"direccion principal", "mi direccion", "misma direccion", "direccion guardada", "direccion de siempre"}
	checkoutWords  = []string{"finalizar", "checkout", "proceder", "procesar"}
	buyVerbs       = []string{"comprar", "compra", "quiero", "agregar", "agrega", "agregame", "anadir", "anade", "necesito", "busco", "dame", "llevar", "llevo"}

	leadingFiller = toSet("comprar", "compra", "quiero", "quisiera", "agregar", "agrega", "agregame", "anadir", "anade",
		"necesito", "busco", "dame", "llevar", "llevo", "me", "un", "una", "unos", "unas", "el", "la", "los", "las", "por", "favor")
	trailingFiller = toSet("al", "carrito", "del", "por", "favor", "porfa", "gracias")
)

// classification is the outcome of intent detection plus extracted entities
type classification struct {
	Intent   Intent
	Token    string
	Quantity int
	Product  string
	Shipping *models.ShippingData
}

// classifyIntent maps a free text turn to an intent. Earlier rules win.
func classifyIntent(message string) classification {
	msg := strings.TrimSpace(message)
	words := wordsOf(msg)
	folded := strings.Join(words, " ")

	if code, ok := ExtractToken(msg); ok {
		return classification{Intent: IntentConfirmCode, Token: code}
	}
	if hasAnyPhrase(folded, resendPhrases) {
		return classification{Intent: IntentResendCode}
	}
	if m := freeformAddress.FindStringSubmatch(msg); m != nil {
		return classification{Intent: IntentChooseAddress, Shipping: parseFreeformAddress(m[1])}
	}
	if hasAnyPhrase(folded, removeVerbs) {
		return classification{Intent: IntentRemoveItem, Product: productQuery(dropWords(words, removeVerbs))}
	}
	if hasAnyPhrase(folded, paymentPhrases) {
		return classification{Intent: IntentPaymentHelp}
	}
	if hasAnyPhrase(folded, addressPhrases) {
		return classification{Intent: IntentChooseAddress}
	}
	if m := quantityPattern.FindStringSubmatch(util.FoldText(msg)); m != nil {
		qty, _ := strconv.Atoi(m[1])
		return classification{Intent: IntentSetQuantity, Quantity: qty}
	}
	if hasAnyPhrase(folded, checkoutWords) {
		return classification{Intent: IntentCheckout}
	}
	if hasAnyPhrase(folded, buyVerbs) {
		qty, product := splitQuantity(productQuery(words))
		if product == "" {
			return classification{Intent: IntentCheckout}
		}
		return classification{Intent: IntentAddToCart, Product: product, Quantity: qty}
	}
	return classification{Intent: IntentUnknown}
}

// wordsOf folds text and splits it on anything that is not a letter or digit
func wordsOf(text string) []string {
	return strings.FieldsFunc(util.FoldText(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsWord matches a whole word or phrase inside already folded text
func containsWord(folded, phrase string) bool {
	padded := " " + strings.Join(wordsOf(folded), " ") + " "
	return strings.Contains(padded, " "+phrase+" ")
}

func hasAnyPhrase(folded string, phrases []string) bool {
	for _, p := range phrases {
		if containsWord(folded, p) {
			return true
		}
	}
	return false
}

func dropWords(words []string, drop []string) []string {
	set := toSet(drop...)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := set[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}

// productQuery trims filler words around the product text
func productQuery(words []string) string {
	start, end := 0, len(words)
	for start < end {
		if _, ok := leadingFiller[words[start]]; !ok {
			break
		}
		start++
	}
	for end > start {
		if _, ok := trailingFiller[words[end-1]]; !ok {
			break
		}
		end--
	}
	return strings.Join(words[start:end], " ")
}

// splitQuantity reads a leading quantity such as "2 griferias tokio"
func splitQuantity(query string) (int, string) {
	first, rest, found := strings.Cut(query, " ")
	if !found {
		return 0, query
	}
	n, err := strconv.Atoi(first)
	if err != nil || n <= 0 || n > maxLineQuantity {
		return 0, query
	}
	return n, rest
}

// parseFreeformAddress reads "street, reference, city"; the last part is the city
func parseFreeformAddress(raw string) *models.ShippingData {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	city := parts[len(parts)-1]
	line := strings.TrimSpace(raw)
	if len(parts) > 1 {
		line = strings.Join(parts[:len(parts)-1], ", ")
	}
	return &models.ShippingData{City: city, AddressLine: line}
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
