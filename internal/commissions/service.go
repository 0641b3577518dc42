package commissions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	dbpkg "github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/netcomp-backend/pkg/pagination"
)

// OrderPaid is the confirmed payment hand-off. OrderID is the idempotency key.
type OrderPaid struct {
	OrderID         string    `json:"orderId" validate:"required,max=128"`
	BuyerID         uuid.UUID `json:"buyerId" validate:"required"`
	PaidAmountCents int64     `json:"paidAmountCents" validate:"required,gt=0"`
}

// Settlement is the outcome of distributing one order.
type Settlement struct {
	OrderID          string                    `json:"orderId"`
	BuyerID          uuid.UUID                 `json:"buyerId"`
	PaidAmountCents  int64                     `json:"paidAmountCents"`
	PlanVersion      int                       `json:"planVersion"`
	DistributedCents int64                     `json:"distributedCents"`
	Records          []models.CommissionRecord `json:"records"`
	AlreadyProcessed bool                      `json:"alreadyProcessed"`
}

// RecordPage is one newest-first page of a recipient's commissions.
type RecordPage struct {
	Items      []models.CommissionRecord `json:"items"`
	NextCursor string                    `json:"nextCursor,omitempty"`
}

// Service distributes paid orders up the sponsor chain.
type Service interface {
	SettleOrder(ctx context.Context, plan *compplan.Plan, order OrderPaid) (*Settlement, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.CommissionRecord, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, params pagination.Params) (*RecordPage, error)
}

type memberReader interface {
	Get(ctx context.Context, memberID uuid.UUID) (*models.Member, error)
}

type tierResolver interface {
	EffectiveTier(ctx context.Context, plan *compplan.Plan, memberID uuid.UUID) (compplan.Tier, error)
}

type walletCrediter interface {
	Credit(ctx context.Context, tx *gorm.DB, input wallet.CreditInput) (*models.WalletTransaction, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Deps groups the collaborators of the commission engine.
type Deps struct {
	Repo        Repository
	Members     memberReader
	Tiers       tierResolver
	Wallet      walletCrediter
	Tx          txRunner
	Outbox      outboxPublisher
	Metrics     *metrics.EngineMetrics
	Logger      *logger.Logger
	SystemActor uuid.UUID
}

type service struct {
	repo    Repository
	members memberReader
	tiers   tierResolver
	wallet  walletCrediter
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.EngineMetrics
	logg    *logger.Logger
	actor   uuid.UUID
	now     func() time.Time
}

func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("commission repository required")
	case deps.Members == nil:
		return nil, fmt.Errorf("member reader required")
	case deps.Tiers == nil:
		return nil, fmt.Errorf("tier resolver required")
	case deps.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.SystemActor == uuid.Nil:
		return nil, fmt.Errorf("system actor id required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    deps.Repo,
		members: deps.Members,
		tiers:   deps.Tiers,
		wallet:  deps.Wallet,
		tx:      deps.Tx,
		outbox:  deps.Outbox,
		metrics: deps.Metrics,
		logg:    logg,
		actor:   deps.SystemActor,
		now:     time.Now,
	}, nil
}

// payout is one planned commission before it is persisted.
type payout struct {
	recipient uuid.UUID
	level     int
	tier      compplan.Tier
	amount    int64
}

// SettleOrder is idempotent on OrderID. A repeat, including the loser of a
// concurrent race, returns the stored records with an ALREADY_PROCESSED error.
func (s *service) SettleOrder(ctx context.Context, plan *compplan.Plan, order OrderPaid) (*Settlement, error) {
	started := s.now()
	settlement, err := s.settle(ctx, plan, order)
	outcome := metrics.OutcomeSettled
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed):
		outcome = metrics.OutcomeAlreadyProcessed
	case pkgerrors.IsCode(err, pkgerrors.CodeConfigurationInvalid):
		outcome = metrics.OutcomeConfigInvalid
		logCtx := s.logg.WithOrderID(ctx, order.OrderID)
		if plan != nil {
			logCtx = s.logg.WithPlanVersion(logCtx, plan.Version)
		}
		s.logg.Error(logCtx, "commission configuration invalid", err)
	default:
		outcome = metrics.OutcomeFailed
	}
	s.metrics.ObserveSettlement(outcome, s.now().Sub(started))
	return settlement, err
}

func (s *service) settle(ctx context.Context, plan *compplan.Plan, order OrderPaid) (*Settlement, error) {
	order.OrderID = strings.TrimSpace(order.OrderID)
	if order.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if order.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if order.PaidAmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paid amount must be positive")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "compensation plan required")
	}
	plan = plan.Clone()
	if err := plan.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationInvalid, err, "compensation plan invalid")
	}

	existing, err := s.repo.FindSettlement(ctx, order.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	if existing != nil {
		return s.alreadyProcessed(ctx, existing)
	}

	payouts, err := s.walkUpline(ctx, plan, order)
	if err != nil {
		return nil, err
	}

	result := &Settlement{
		OrderID:         order.OrderID,
		BuyerID:         order.BuyerID,
		PaidAmountCents: order.PaidAmountCents,
		PlanVersion:     plan.Version,
	}
	for _, p := range payouts {
		result.DistributedCents += p.amount
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		row := &models.CommissionSettlement{
			OrderID:          order.OrderID,
			BuyerID:          order.BuyerID,
			PaidAmountCents:  order.PaidAmountCents,
			PlanVersion:      plan.Version,
			DistributedCents: result.DistributedCents,
			RecordCount:      len(payouts),
			SettledAt:        now,
		}
		if err := repo.CreateSettlement(ctx, row); err != nil {
			return err
		}

		reference := "order:" + order.OrderID
		for _, p := range payouts {
			txn, err := s.wallet.Credit(ctx, tx, wallet.CreditInput{
				UserID:      p.recipient,
				AmountCents: p.amount,
				Reason:      enums.WalletReasonCommission,
				Reference:   &reference,
				ActorID:     s.actor,
				ActorRole:   enums.MemberRoleSystem,
			})
			if err != nil {
				return err
			}
			record := models.CommissionRecord{
				ID:                  uuid.New(),
				OrderID:             order.OrderID,
				BuyerID:             order.BuyerID,
				RecipientID:         p.recipient,
				Level:               p.level,
				Tier:                p.tier.Tier,
				Rate:                p.tier.CommissionRate,
				AmountCents:         p.amount,
				PlanVersion:         plan.Version,
				WalletTransactionID: txn.ID,
				CreatedAt:           now,
			}
			if err := repo.CreateRecord(ctx, &record); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCommissionRecorded,
				AggregateType: enums.AggregateCommissionRecord,
				AggregateID:   record.ID,
				Actor:         &outbox.ActorRef{UserID: s.actor, Role: string(enums.MemberRoleSystem)},
				Data: payloads.CommissionRecordedEvent{
					RecordID:            record.ID,
					OrderID:             record.OrderID,
					BuyerID:             record.BuyerID,
					RecipientID:         record.RecipientID,
					Level:               record.Level,
					Tier:                record.Tier,
					Rate:                record.Rate.String(),
					AmountCents:         record.AmountCents,
					PlanVersion:         record.PlanVersion,
					WalletTransactionID: record.WalletTransactionID,
				},
				OccurredAt: now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit commission event")
			}
			result.Records = append(result.Records, record)
		}
		return nil
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			winner, findErr := s.repo.FindSettlement(ctx, order.OrderID)
			if findErr == nil && winner != nil {
				return s.alreadyProcessed(ctx, winner)
			}
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist settlement")
	}

	for _, record := range result.Records {
		s.metrics.AddCommission(record.Level, record.AmountCents)
	}
	if result.Records == nil {
		result.Records = []models.CommissionRecord{}
	}
	return result, nil
}

// walkUpline walks the buyer's upline and sizes each level's payout. Level equals
// distance from the buyer; inactive sponsors consume their level unpaid.
func (s *service) walkUpline(ctx context.Context, plan *compplan.Plan, order OrderPaid) ([]payout, error) {
	buyer, err := s.members.Get(ctx, order.BuyerID)
	if err != nil {
		return nil, err
	}

	paid := decimal.NewFromInt(order.PaidAmountCents)
	rateSum := decimal.Zero
	var total int64
	var payouts []payout

	visited := map[uuid.UUID]struct{}{buyer.ID: {}}
	next := buyer.SponsorID
	for level := 1; next != nil && level <= plan.MaxCommissionDepth; level++ {
		if _, seen := visited[*next]; seen {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "sponsor chain contains a cycle").
				WithDetails(map[string]any{"orderId": order.OrderID, "memberId": *next})
		}
		visited[*next] = struct{}{}

		sponsor, err := s.members.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		next = sponsor.SponsorID
		if !sponsor.Active {
			continue
		}

		tier, err := s.tiers.EffectiveTier(ctx, plan, sponsor.ID)
		if err != nil {
			return nil, err
		}
		rateSum = rateSum.Add(tier.CommissionRate)
		amount := CommissionCents(order.PaidAmountCents, tier.CommissionRate)
		if amount <= 0 {
			continue
		}
		total += amount
		payouts = append(payouts, payout{recipient: sponsor.ID, level: level, tier: tier, amount: amount})
	}

	if rateSum.GreaterThan(plan.MaxPayoutRatio) {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "applied commission rates exceed max payout ratio").
			WithDetails(map[string]any{"rateSum": rateSum.String(), "maxPayoutRatio": plan.MaxPayoutRatio.String(), "planVersion": plan.Version})
	}
	if decimal.NewFromInt(total).GreaterThan(paid.Mul(plan.MaxPayoutRatio)) {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationInvalid, "distributed commission exceeds max payout ratio").
			WithDetails(map[string]any{"distributedCents": total, "paidAmountCents": order.PaidAmountCents, "planVersion": plan.Version})
	}
	return payouts, nil
}

// CommissionCents applies rate to an integer cent amount, rounding half away
// from zero.
func CommissionCents(paidCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(paidCents).Mul(rate).Round(0).IntPart()
}

func (s *service) alreadyProcessed(ctx context.Context, settlement *models.CommissionSettlement) (*Settlement, error) {
	records, err := s.repo.ListByOrder(ctx, settlement.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settled records")
	}
	if records == nil {
		records = []models.CommissionRecord{}
	}
	result := &Settlement{
		OrderID:          settlement.OrderID,
		BuyerID:          settlement.BuyerID,
		PaidAmountCents:  settlement.PaidAmountCents,
		PlanVersion:      settlement.PlanVersion,
		DistributedCents: settlement.DistributedCents,
		Records:          records,
		AlreadyProcessed: true,
	}
	return result, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already settled").
		WithDetails(map[string]any{"orderId": settlement.OrderID, "recordCount": len(records)})
}

func (s *service) ListByOrder(ctx context.Context, orderID string) ([]models.CommissionRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	records, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission records")
	}
	if records == nil {
		records = []models.CommissionRecord{}
	}
	return records, nil
}

func (s *service) ListByRecipient(ctx context.Context, recipientID uuid.UUID, params pagination.Params) (*RecordPage, error) {
	if recipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	records, err := s.repo.ListByRecipient(ctx, recipientID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission records")
	}
	page := &RecordPage{}
	page.Items, page.NextCursor = pagination.Trim(records, params.Limit, func(r models.CommissionRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return page, nil
}
