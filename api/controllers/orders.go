package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/netcomp-backend/api/responses"
	"github.com/angelmondragon/netcomp-backend/api/validators"
	"github.com/angelmondragon/netcomp-backend/internal/commissions"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

type orderSettler interface {
	SettleOrder(ctx context.Context, plan *compplan.Plan, order commissions.OrderPaid) (*commissions.Settlement, error)
}

// OrderPaidWebhook settles commissions for a paid order. Replays of a settled
// order answer 200 with the original records; first settlement answers 201.
func OrderPaidWebhook(svc orderSettler, plans compplan.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || plans == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		var order commissions.OrderPaid
		if err := validators.DecodeJSONBody(r, &order); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, order.OrderID)
		}
		plan, err := plans.Current(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		settlement, err := svc.SettleOrder(ctx, plan, order)
		switch {
		case err == nil:
			responses.WriteSuccessStatus(w, http.StatusCreated, settlement)
		case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed) && settlement != nil:
			responses.WriteSuccess(w, settlement)
		default:
			responses.WriteError(ctx, logg, w, err)
		}
	}
}
