package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/utils"
)

// TripCatalog is the read and create side of the trips table.
type TripCatalog interface {
	TripStore
	ListPublished(ctx context.Context, from time.Time) ([]models.Trip, error)
	Create(ctx context.Context, t *models.Trip) error
}

type TripService struct {
	Trips TripCatalog
	Log   *zap.Logger
}

type CreateTripInput struct {
	Title            string   `json:"title"`
	EventName        string   `json:"event_name"`
	DepartureAt      string   `json:"departure_at"`
	Price            int64    `json:"price"`
	Currency         string   `json:"currency"`
	SeatsTotal       int      `json:"seats_total"`
	Status           string   `json:"status"`
	PaymentProviders []string `json:"payment_providers"`
}

func (s TripService) ListUpcoming(ctx context.Context) ([]models.Trip, error) {
	return s.Trips.ListPublished(ctx, utils.NowUTC())
}

func (s TripService) Get(ctx context.Context, id int64) (models.Trip, error) {
	if id <= 0 {
		return models.Trip{}, domain.ValidationError{Field: "trip_id", Msg: "invalid id"}
	}
	return s.Trips.GetByID(ctx, id)
}

func (s TripService) Create(ctx context.Context, in CreateTripInput) (models.Trip, error) {
	t := models.Trip{
		Title:      utils.NormalizeSpace(in.Title),
		EventName:  utils.NormalizeSpace(in.EventName),
		Price:      in.Price,
		Currency:   strings.ToUpper(strings.TrimSpace(in.Currency)),
		SeatsTotal: in.SeatsTotal,
		Status:     models.TripStatus(strings.ToLower(strings.TrimSpace(in.Status))),
	}
	if t.Title == "" {
		return models.Trip{}, domain.ValidationError{Field: "title", Msg: "required"}
	}
	dep, err := utils.ParseDateTime(in.DepartureAt)
	if err != nil {
		return models.Trip{}, domain.ValidationError{Field: "departure_at", Msg: "invalid date", Err: err}
	}
	t.DepartureAt = dep
	if t.Price < 0 {
		return models.Trip{}, domain.ValidationError{Field: "price", Msg: "must not be negative"}
	}
	if t.SeatsTotal < 1 {
		return models.Trip{}, domain.ValidationError{Field: "seats_total", Msg: "must be at least 1"}
	}
	if len(t.Currency) != 3 {
		return models.Trip{}, domain.ValidationError{Field: "currency", Msg: "must be a 3-letter code"}
	}
	switch t.Status {
	case "":
		t.Status = models.TripDraft
	case models.TripDraft, models.TripPublished, models.TripCancelled, models.TripCompleted:
	default:
		return models.Trip{}, domain.ValidationError{Field: "status", Msg: "unknown trip status"}
	}
	for _, raw := range in.PaymentProviders {
		p, ok := models.ParseProvider(raw)
		if !ok {
			return models.Trip{}, domain.ValidationError{Field: "payment_providers", Msg: "unknown payment provider " + raw}
		}
		t.PaymentProviders = append(t.PaymentProviders, p)
	}

	if err := s.Trips.Create(ctx, &t); err != nil {
		return models.Trip{}, err
	}
	if s.Log != nil {
		s.Log.Info("trip created", zap.Int64("trip_id", t.ID), zap.String("status", string(t.Status)))
	}
	return t, nil
}
