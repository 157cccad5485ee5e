package service

import (
	"context"
	"errors"
	"fmt"

	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

var (
	ErrForbidden         = errors.New("actor not allowed to update this shipment")
	ErrIllegalTransition = errors.New("illegal shipping status transition")
	ErrShippingNotFound  = errors.New("shipping not found")
	ErrInvalidStatus     = errors.New("unknown shipping status")
)

// maxStatusSkip is how far forward a single update may move the lifecycle
const maxStatusSkip = 2

// CanTransition reports whether a shipment may move from one status to another.
// INCIDENCIA is always reachable; leaving it may resume any lifecycle status.
func CanTransition(from, to models.ShippingStatus) bool {
	if !to.Valid() {
		return false
	}
	if to == models.ShippingIncident {
		return true
	}
	if from == models.ShippingIncident {
		return true
	}
	i, j := from.Ordinal(), to.Ordinal()
	if i < 0 {
		return false
	}
	return j >= i && j-i <= maxStatusSkip
}

// CarrierRouter chooses a carrier from the destination city
type CarrierRouter struct {
	local map[string]struct{}
	mrw   map[string]struct{}
}

// NewCarrierRouter builds a router from the local delivery and MRW city lists
func NewCarrierRouter(localCities, mrwCities []string) *CarrierRouter {
	return &CarrierRouter{
		local: citySet(localCities),
		mrw:   citySet(mrwCities),
	}
}

func citySet(cities []string) map[string]struct{} {
	set := make(map[string]struct{}, len(cities))
	for _, c := range cities {
		if folded := util.FoldText(c); folded != "" {
			set[folded] = struct{}{}
		}
	}
	return set
}

// RouteCarrier returns DELIVERY for local cities, MRW for metro areas and TEALCA otherwise
func (r *CarrierRouter) RouteCarrier(city string) models.Carrier {
	folded := util.FoldText(city)
	if _, ok := r.local[folded]; ok {
		return models.CarrierDelivery
	}
	if _, ok := r.mrw[folded]; ok {
		return models.CarrierMRW
	}
	return models.CarrierTealca
}

// ShipmentUpdate is a driver or admin status change
type ShipmentUpdate struct {
	Status       models.ShippingStatus `json:"status" binding:"required"`
	Tracking     *string               `json:"tracking,omitempty"`
	Observations *string               `json:"observations,omitempty"`
}

// ShipmentService runs the shipment lifecycle
type ShipmentService struct {
	repo   ShippingRepository
	router *CarrierRouter
	bus    eventbus.Bus
	logger *zap.Logger
}

// NewShipmentService creates a new shipment service
func NewShipmentService(repo ShippingRepository, router *CarrierRouter, bus eventbus.Bus) *ShipmentService {
	return &ShipmentService{
		repo:   repo,
		router: router,
		bus:    bus,
		logger: util.GetLogger(),
	}
}

// Register subscribes the service to order.paid
func (s *ShipmentService) Register(bus eventbus.Bus) {
	bus.Subscribe(models.EventOrderPaid, func(ctx context.Context, event eventbus.Event) error {
		paid, ok := event.Payload.(*models.OrderPaidEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Name)
		}
		return s.HandleOrderPaid(ctx, paid)
	})
}

// HandleOrderPaid creates the shipment of a paid order, or advances a pending one
func (s *ShipmentService) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "ShipmentService.HandleOrderPaid")
	defer span.End()

	var created bool
	var from models.ShippingStatus

	sh, err := s.repo.MutateShipping(ctx, event.OrderID, func(current *models.Shipping) (*models.Shipping, error) {
		if current == nil {
			created = true
			carrier := s.router.RouteCarrier(event.City)
			return &models.Shipping{
				Carrier: carrier,
				Channel: models.ChannelFor(carrier),
				Status:  models.ShippingPreparing,
			}, nil
		}
		if current.Status != models.ShippingPending {
			return nil, nil
		}
		from = current.Status
		next := *current
		next.Status = models.ShippingPreparing
		return &next, nil
	})
	if err != nil {
		return fmt.Errorf("failed to prepare shipment for order %s: %w", event.OrderID, err)
	}

	switch {
	case created:
		util.ShipmentTransitionsTotal.WithLabelValues(string(sh.Status), "created").Inc()
		s.logger.Info("Shipment created",
			zap.String("order_id", sh.OrderID),
			zap.String("carrier", string(sh.Carrier)))
		s.bus.Publish(ctx, eventbus.Event{
			Name: models.EventShipmentCreated,
			Payload: &models.ShipmentCreatedEvent{
				BaseEvent: newBaseEvent(models.EventShipmentCreated),
				OrderID:   sh.OrderID,
				Carrier:   sh.Carrier,
				Status:    sh.Status,
			},
		})
	case from != "":
		util.ShipmentTransitionsTotal.WithLabelValues(string(sh.Status), "ok").Inc()
		s.publishStatusChanged(ctx, sh, from, "")
	}
	return nil
}

// UpdateStatus applies a driver or admin status change after checking the
// actor and the transition against the locked shipping row
func (s *ShipmentService) UpdateStatus(ctx context.Context, actor models.Actor, orderID string, update ShipmentUpdate) (*models.Shipping, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.UpdateStatus")
	defer span.End()

	if actor.Role != models.RoleAdmin && actor.Role != models.RoleDelivery {
		util.ShipmentTransitionsTotal.WithLabelValues(string(update.Status), "forbidden").Inc()
		return nil, ErrForbidden
	}
	if !update.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	var from models.ShippingStatus
	sh, err := s.repo.MutateShipping(ctx, orderID, func(current *models.Shipping) (*models.Shipping, error) {
		if current == nil {
			return nil, ErrShippingNotFound
		}
		if actor.Role == models.RoleDelivery && !current.IsAssignedTo(actor.ID) {
			return nil, ErrForbidden
		}
		if !CanTransition(current.Status, update.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, update.Status)
		}
		from = current.Status
		next := *current
		next.Status = update.Status
		if update.Tracking != nil {
			next.Tracking = update.Tracking
		}
		if update.Observations != nil {
			next.Observations = update.Observations
		}
		return &next, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrShippingNotFound
		}
		util.ShipmentTransitionsTotal.WithLabelValues(string(update.Status), transitionOutcome(err)).Inc()
		s.logger.Warn("Shipment update rejected",
			zap.String("order_id", orderID),
			zap.String("actor_id", actor.ID),
			zap.String("to", string(update.Status)),
			zap.Error(err))
		return nil, err
	}

	util.ShipmentTransitionsTotal.WithLabelValues(string(sh.Status), "ok").Inc()
	s.logger.Info("Shipment status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(sh.Status)))

	if from != sh.Status {
		s.publishStatusChanged(ctx, sh, from, actor.ID)
	}
	return sh, nil
}

// Assign hands a shipment to a delivery driver. Admin only.
func (s *ShipmentService) Assign(ctx context.Context, actor models.Actor, orderID, driverID string) (*models.Shipping, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.Assign")
	defer span.End()

	if actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if driverID == "" {
		return nil, fmt.Errorf("driver id is required")
	}

	sh, err := s.repo.MutateShipping(ctx, orderID, func(current *models.Shipping) (*models.Shipping, error) {
		if current == nil {
			return nil, ErrShippingNotFound
		}
		next := *current
		next.AssignedToID = &driverID
		return &next, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrShippingNotFound
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Shipment assigned",
		zap.String("order_id", orderID),
		zap.String("driver_id", driverID))
	return sh, nil
}

// GetShipment returns the shipping row of an order. Drivers only see
// shipments assigned to them.
func (s *ShipmentService) GetShipment(ctx context.Context, actor models.Actor, orderID string) (*models.Shipping, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.GetShipment")
	defer span.End()

	if actor.Role != models.RoleAdmin && actor.Role != models.RoleDelivery {
		return nil, ErrForbidden
	}

	sh, err := s.repo.GetShipping(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrShippingNotFound
	}
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleDelivery && !sh.IsAssignedTo(actor.ID) {
		return nil, ErrForbidden
	}
	return sh, nil
}

func (s *ShipmentService) publishStatusChanged(ctx context.Context, sh *models.Shipping, from models.ShippingStatus, actorID string) {
	evt := &models.ShipmentStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventShipmentStatusChanged),
		OrderID:   sh.OrderID,
		Carrier:   sh.Carrier,
		From:      from,
		To:        sh.Status,
		ActorID:   actorID,
	}
	if sh.Tracking != nil {
		evt.Tracking = *sh.Tracking
	}
	s.bus.Publish(ctx, eventbus.Event{Name: models.EventShipmentStatusChanged, Payload: evt})
}

func transitionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, ErrShippingNotFound):
		return "not_found"
	default:
		return "error"
	}
}
