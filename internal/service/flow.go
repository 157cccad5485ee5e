package service

import (
	"fmt"

	"carpihogar-assistant/internal/models"
)

// Step names a stage of the purchase conversation
type Step string

const (
	StepAddToCart         Step = "add_to_cart"
	StepBuyProcess        Step = "buy_process"
	StepAskForMissingData Step = "ask_for_missing_data"
	StepCreateTempOrder   Step = "create_temp_order"
	StepSendToken         Step = "send_token"
	StepConfirmOrder      Step = "confirm_order"
	StepPaymentHelp       Step = "payment_help"
	StepRemoveFromCart    Step = "remove_from_cart"
)

// Steps lists every known step
var Steps = []Step{
	StepAddToCart,
	StepBuyProcess,
	StepAskForMissingData,
	StepCreateTempOrder,
	StepSendToken,
	StepConfirmOrder,
	StepPaymentHelp,
	StepRemoveFromCart,
}

// ParseStep converts a step name, rejecting unknown ones
func ParseStep(name string) (Step, error) {
	for _, s := range Steps {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", name)
}

// UI actions understood by the storefront
const (
	ActionCartAddVisual    = "cart_add_visual"
	ActionCartUpdated      = "cart_updated"
	ActionOrderTempCreated = "order_temp_created"
	ActionTokenSent        = "token_sent"
	ActionShowPaymentForm  = "show_payment_form"
)

// ConversationContext identifies who is talking. CustomerID is empty for anonymous sessions.
type ConversationContext struct {
	CustomerID string
	SessionID  string
}

// ConversationTurn is a free text message from the storefront
type ConversationTurn struct {
	CustomerID string
	SessionID  string
	Message    string
}

// Context returns the conversation context of the turn
func (t ConversationTurn) Context() ConversationContext {
	return ConversationContext{CustomerID: t.CustomerID, SessionID: t.SessionID}
}

// StepInput carries the arguments of an explicit step
type StepInput struct {
	Query        string               `json:"query,omitempty"`
	Text         string               `json:"text,omitempty"`
	ProductID    string               `json:"productId,omitempty"`
	Quantity     int                  `json:"quantity,omitempty"`
	AddressID    string               `json:"addressId,omitempty"`
	ShippingData *models.ShippingData `json:"shippingData,omitempty"`
	OrderTempID  string               `json:"orderTempId,omitempty"`
	Token        string               `json:"token,omitempty"`
	Missing      *MissingData         `json:"missing,omitempty"`
	Entities     map[string]string    `json:"entities,omitempty"`
}

func (in StepInput) productID() string {
	if in.ProductID != "" {
		return in.ProductID
	}
	return in.Entities["productId"]
}

// AssistantMessage is one assistant chat bubble
type AssistantMessage struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// UIAction asks the storefront to update its UI
type UIAction struct {
	Type    string                 `json:"type"`
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// FlowResult is the only shape returned to the boundary layer
type FlowResult struct {
	Messages  []AssistantMessage `json:"messages"`
	UIActions []UIAction         `json:"uiActions,omitempty"`
}

func newResult(texts ...string) *FlowResult {
	r := &FlowResult{Messages: []AssistantMessage{}}
	for _, t := range texts {
		r.say(t)
	}
	return r
}

func (r *FlowResult) say(text string) {
	r.Messages = append(r.Messages, AssistantMessage{Role: "assistant", Type: "text", Content: text})
}

func (r *FlowResult) act(action string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	r.UIActions = append(r.UIActions, UIAction{Type: "ui_control", Action: action, Payload: payload})
}

func (r *FlowResult) merge(other *FlowResult) {
	if other == nil {
		return
	}
	r.Messages = append(r.Messages, other.Messages...)
	r.UIActions = append(r.UIActions, other.UIActions...)
}

// HasAction reports whether the result carries the given UI action
func (r *FlowResult) HasAction(action string) bool {
	for _, a := range r.UIActions {
		if a.Action == action {
			return true
		}
	}
	return false
}
