package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/event"
	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// orchestratorImpl is the concrete implementation of Orchestrator
type orchestratorImpl struct {
	billRepo   port.BillRepository
	auditRepo  port.AuditRepository
	txManager  port.TransactionManager
	gate       *permission.Gate
	table      *domainwf.Table
	dispatcher dispatcher.Dispatcher
	resolver   port.RoleResolver
	logger     Logger
	now        func() time.Time
}

// Option configures the orchestrator
type Option func(*orchestratorImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *orchestratorImpl) {
		o.dispatcher = d
	}
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(o *orchestratorImpl) {
		o.logger = l
	}
}

// WithTable replaces the built-in bill pipeline
func WithTable(t *domainwf.Table) Option {
	return func(o *orchestratorImpl) {
		o.table = t
	}
}

// WithRoleResolver looks up roles for users that arrive without any
func WithRoleResolver(r port.RoleResolver) Option {
	return func(o *orchestratorImpl) {
		o.resolver = r
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorImpl) {
		o.now = now
	}
}

// NewOrchestrator creates a new batch transition orchestrator
func NewOrchestrator(
	billRepo port.BillRepository,
	auditRepo port.AuditRepository,
	txManager port.TransactionManager,
	gate *permission.Gate,
	opts ...Option,
) Orchestrator {
	o := &orchestratorImpl{
		billRepo:  billRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		gate:      gate,
		table:     domainwf.DefaultTable,
		logger:    nopLogger{},
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// BatchTransition processes every id in order. Each bill commits or fails on its own.
func (o *orchestratorImpl) BatchTransition(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	action := domainwf.Action(req.Action)

	from, err := o.resolveUser(ctx, req.FromUser)
	if err != nil {
		return nil, err
	}
	to, err := o.resolveUser(ctx, req.ToUser)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Successful: make([]Success, 0, len(req.BillIDs)),
		Failed:     make([]Failure, 0),
	}
	correlationID := uuid.NewString()
	storeFailures := 0
	var lastStoreErr error

	for _, id := range req.BillIDs {
		success, err := o.transitionOne(ctx, req, action, from, to, id, correlationID)
		if err != nil {
			if errors.Is(err, domainwf.ErrPersistence) {
				storeFailures++
				lastStoreErr = err
			}
			code := domainwf.Classify(err)
			o.logger.Info("Bill transition failed",
				"bill_id", id,
				"action", action,
				"code", code,
				"error", err,
			)
			result.Failed = append(result.Failed, Failure{BillID: id, Code: code, Message: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, *success)
	}

	result.SuccessCount = len(result.Successful)
	result.FailedCount = len(result.Failed)

	// Every bill hit the store and failed there: the store is down, not the bills.
	// A cancelled request keeps its per-bill breakdown.
	if storeFailures == len(req.BillIDs) && ctx.Err() == nil {
		o.logger.Error("Batch transition aborted, store unavailable",
			"action", action,
			"requested", len(req.BillIDs),
			"correlation_id", correlationID,
			"error", lastStoreErr,
		)
		return nil, fmt.Errorf("store unavailable, all %d bills failed: %w", storeFailures, lastStoreErr)
	}

	o.logger.Info("Batch transition completed",
		"action", action,
		"requested", len(req.BillIDs),
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount,
		"correlation_id", correlationID,
	)
	return result, nil
}

// resolveUser fills in roles from the directory when the request carries none
func (o *orchestratorImpl) resolveUser(ctx context.Context, u UserInput) (UserInput, error) {
	u.Roles = domainwf.NormalizeRoles(u.Roles)
	if len(u.Roles) > 0 || o.resolver == nil || u.ID == "" {
		return u, nil
	}
	roles, err := o.resolver.ResolveRoles(ctx, u.ID)
	if err != nil {
		if errors.Is(err, domainwf.ErrNotFound) {
			return u, nil
		}
		return u, fmt.Errorf("failed to resolve roles for %s: %w", u.ID, err)
	}
	u.Roles = domainwf.NormalizeRoles(roles)
	return u, nil
}

func (o *orchestratorImpl) transitionOne(
	ctx context.Context,
	req BatchRequest,
	action domainwf.Action,
	from, to UserInput,
	id string,
	correlationID string,
) (*Success, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrPersistence, err)
	}

	bill, err := o.billRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	state, err := domainwf.ParseState(bill.WorkflowState.CurrentState)
	if err != nil {
		return nil, err
	}
	if state.IsTerminal() && action != domainwf.ActionRecover {
		return nil, fmt.Errorf("%w: bill %s is already %s", domainwf.ErrTerminalState, bill.SerialNo, state)
	}

	if obs, ok := req.Observed[id]; ok {
		if obs.CurrentCount != bill.CurrentCount || !obs.LastUpdated.Equal(bill.WorkflowState.LastUpdated) {
			return nil, fmt.Errorf("%w: bill %s changed since it was read", domainwf.ErrStaleState, bill.SerialNo)
		}
	}

	if err := o.gate.Authorize(from.Roles, action, bill.CurrentCount, to.Roles); err != nil {
		return nil, err
	}

	now := o.now().UTC().Truncate(time.Millisecond)
	res, err := o.table.Decide(domainwf.Request{
		FromRoles:   from.Roles,
		ToRoles:     to.Roles,
		Action:      action,
		Bill:        bill,
		ActorName:   displayName(from),
		ToName:      displayName(to),
		Comments:    req.Remarks,
		TargetState: domainwf.State(req.TargetState),
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	if err := domainwf.CheckInvariants(res.Bill); err != nil {
		return nil, err
	}

	updated := res.Bill
	record := &entity.WorkflowAuditRecord{
		ID:        uuid.NewString(),
		BillID:    bill.ID,
		FromUser:  entity.UserRef{ID: from.ID, Name: from.Name, Roles: from.Roles},
		ToUser:    entity.UserRef{ID: to.ID, Name: to.Name, Roles: to.Roles},
		Action:    action.String(),
		Remarks:   req.Remarks,
		FromState: res.FromState.String(),
		NewState:  res.NextState.String(),
		FromCount: res.FromCount,
		ToCount:   res.NextCount,
		CreatedAt: now,
	}

	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		last, err := o.auditRepo.LastForBill(txCtx, bill.ID)
		if err != nil {
			return fmt.Errorf("failed to read last audit record: %w", err)
		}
		if last != nil {
			record.SetDuration(now.Sub(last.CreatedAt))
		}

		if err := o.billRepo.Update(txCtx, updated, bill.Version); err != nil {
			return err
		}
		if err := o.auditRepo.Append(txCtx, record); err != nil {
			return fmt.Errorf("failed to append audit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.publish(ctx, res, updated, from, correlationID)

	return &Success{
		BillID:   updated.ID,
		SerialNo: updated.SerialNo,
		Workflow: WorkflowSummary{
			CurrentState: updated.WorkflowState.CurrentState,
			CurrentCount: updated.CurrentCount,
			MaxCount:     updated.MaxCount,
			LastUpdated:  updated.WorkflowState.LastUpdated,
			Version:      updated.Version,
		},
	}, nil
}

// publish emits bill.transitioned and the event specific to the outcome
func (o *orchestratorImpl) publish(ctx context.Context, res *domainwf.Result, bill *entity.Bill, from UserInput, correlationID string) {
	if o.dispatcher == nil {
		return
	}

	payload := map[string]interface{}{
		event.KeySerialNo:  bill.SerialNo,
		event.KeyFromState: res.FromState.String(),
		event.KeyToState:   res.NextState.String(),
		event.KeyFromCount: res.FromCount,
		event.KeyToCount:   res.NextCount,
		event.KeyAction:    res.Edge.Action.String(),
		event.KeyActor:     displayName(from),
	}
	o.dispatcher.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeBillTransitioned, bill.ID, payload, correlationID))

	var specific event.Type
	switch {
	case res.Edge.Action == domainwf.ActionReject:
		specific = event.TypeBillRejected
	case res.Edge.Action == domainwf.ActionRecover:
		specific = event.TypeBillRecovered
	case res.NextState == domainwf.StateCompleted:
		specific = event.TypeBillCompleted
	default:
		return
	}
	o.dispatcher.DispatchAsync(ctx, event.NewEventWithCorrelation(specific, bill.ID, payload, correlationID))
}

func displayName(u UserInput) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
