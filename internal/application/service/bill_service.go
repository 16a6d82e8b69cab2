package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/event"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateBillInput carries the business fields of a new bill
type CreateBillInput struct {
	VendorName           string         `json:"vendorName"`
	VendorNo             string         `json:"vendorNo"`
	PONumber             string         `json:"poNumber"`
	PODate               *time.Time     `json:"poDate"`
	TaxInvoiceNo         string         `json:"taxInvoiceNo"`
	TaxInvoiceDate       *time.Time     `json:"taxInvoiceDate"`
	TaxInvoiceAmount     float64        `json:"taxInvoiceAmount"`
	Currency             string         `json:"currency"`
	Region               string         `json:"region"`
	ProjectDescription   string         `json:"projectDescription"`
	NatureOfWork         string         `json:"natureOfWork"`
	Department           string         `json:"department"`
	OriginalImportSerial string         `json:"originalImportSerial"`
	Creator              entity.UserRef `json:"creator"`
}

// Validate checks the required business fields
func (in *CreateBillInput) Validate() error {
	if strings.TrimSpace(in.VendorName) == "" {
		return fmt.Errorf("%w: vendorName is required", workflow.ErrInvalidInput)
	}
	if !entity.ValidNatureOfWork(in.NatureOfWork) {
		return fmt.Errorf("%w: natureOfWork must be one of %s, %s or %s, got %q",
			workflow.ErrInvalidInput, entity.NatureMaterial, entity.NatureService, entity.NatureWorks, in.NatureOfWork)
	}
	if in.TaxInvoiceAmount < 0 {
		return fmt.Errorf("%w: taxInvoiceAmount must not be negative", workflow.ErrInvalidInput)
	}
	return nil
}

// BillService manages bill documents outside of workflow transitions
type BillService interface {
	Create(ctx context.Context, in CreateBillInput) (*entity.Bill, error)
	Get(ctx context.Context, id string) (*entity.Bill, error)
	GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error)
	List(ctx context.Context, filter port.BillFilter) ([]*entity.Bill, error)

	// EditBusinessFields applies a patch of business fields. Workflow fields are refused.
	EditBusinessFields(ctx context.Context, id string, patch map[string]interface{}) (*entity.Bill, error)
}

type billServiceImpl struct {
	billRepo     port.BillRepository
	auditRepo    port.AuditRepository
	serialRepo   port.SerialRepository
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	logger       Logger
	fyStartMonth time.Month
	now          func() time.Time
}

// NewBillService creates a new BillService. events may be nil.
func NewBillService(
	billRepo port.BillRepository,
	auditRepo port.AuditRepository,
	serialRepo port.SerialRepository,
	txManager port.TransactionManager,
	events dispatcher.Dispatcher,
	fyStartMonth time.Month,
	logger Logger,
) BillService {
	return &billServiceImpl{
		billRepo:     billRepo,
		auditRepo:    auditRepo,
		serialRepo:   serialRepo,
		txManager:    txManager,
		dispatcher:   events,
		logger:       logger,
		fyStartMonth: fyStartMonth,
		now:          time.Now,
	}
}

// Create assigns a serial number and places the bill at the first stage
func (s *billServiceImpl) Create(ctx context.Context, in CreateBillInput) (*entity.Bill, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	creator := in.Creator.Name
	if creator == "" {
		creator = in.Creator.ID
	}

	bill := &entity.Bill{
		ID:                   uuid.NewString(),
		OriginalImportSerial: in.OriginalImportSerial,
		VendorName:           strings.TrimSpace(in.VendorName),
		VendorNo:             in.VendorNo,
		PONumber:             in.PONumber,
		PODate:               in.PODate,
		TaxInvoiceNo:         in.TaxInvoiceNo,
		TaxInvoiceDate:       in.TaxInvoiceDate,
		TaxInvoiceAmount:     in.TaxInvoiceAmount,
		Currency:             in.Currency,
		Region:               in.Region,
		ProjectDescription:   in.ProjectDescription,
		NatureOfWork:         in.NatureOfWork,
		Department:           in.Department,
		Stages:               make(map[entity.StageKey]*entity.StageRecord),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	workflow.Start(bill, creator, now)

	prefix := entity.FinancialYearPrefix(now, s.fyStartMonth)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		seq, err := s.serialRepo.Next(txCtx, prefix)
		if err != nil {
			return fmt.Errorf("failed to allocate serial: %w", err)
		}
		serial, err := entity.FormatSerial(prefix, seq)
		if err != nil {
			return err
		}
		bill.SerialNo = serial

		if err := s.billRepo.Create(txCtx, bill); err != nil {
			return fmt.Errorf("failed to create bill: %w", err)
		}
		return s.auditRepo.Append(txCtx, &entity.WorkflowAuditRecord{
			ID:        uuid.NewString(),
			BillID:    bill.ID,
			FromUser:  in.Creator,
			Action:    entity.AuditActionCreate,
			NewState:  bill.WorkflowState.CurrentState,
			ToCount:   bill.CurrentCount,
			CreatedAt: now,
		})
	})
	if err != nil {
		s.logger.Error("Failed to create bill", "error", err, "vendor", bill.VendorName)
		return nil, err
	}

	s.logger.Info("Bill created", "bill_id", bill.ID, "serial_no", bill.SerialNo, "nature", bill.NatureOfWork)

	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeBillCreated, bill.ID, map[string]interface{}{
			event.KeySerialNo: bill.SerialNo,
			event.KeyToState:  bill.WorkflowState.CurrentState,
			event.KeyToCount:  bill.CurrentCount,
			event.KeyActor:    creator,
		}))
	}
	return bill, nil
}

// Get retrieves a bill by ID
func (s *billServiceImpl) Get(ctx context.Context, id string) (*entity.Bill, error) {
	return s.billRepo.GetByID(ctx, id)
}

// GetBySerialNo retrieves a bill by its serial number
func (s *billServiceImpl) GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error) {
	return s.billRepo.GetBySerialNo(ctx, serialNo)
}

// List returns bills matching the filter
func (s *billServiceImpl) List(ctx context.Context, filter port.BillFilter) ([]*entity.Bill, error) {
	if filter.State != "" {
		if _, err := workflow.ParseState(filter.State); err != nil {
			return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.billRepo.List(ctx, filter)
}

// EditBusinessFields patches business fields with a conditional update
func (s *billServiceImpl) EditBusinessFields(ctx context.Context, id string, patch map[string]interface{}) (*entity.Bill, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: patch is empty", workflow.ErrInvalidInput)
	}

	bill, err := s.billRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := bill.Version

	if err := ApplyBusinessPatch(bill, patch); err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	bill.UpdatedAt = now
	bill.WorkflowState.LastUpdated = now

	if err := s.billRepo.Update(ctx, bill, expected); err != nil {
		s.logger.Error("Failed to update bill", "error", err, "bill_id", id)
		return nil, err
	}

	s.logger.Info("Bill business fields updated", "bill_id", id, "fields", len(patch))
	return bill, nil
}
