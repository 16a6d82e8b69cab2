package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// workflowFields can only change through a transition
var workflowFields = map[string]bool{
	"id":                   true,
	"serialNo":             true,
	"originalImportSerial": true,
	"workflowState":        true,
	"currentCount":         true,
	"maxCount":             true,
	"status":               true,
	"siteStatus":           true,
	"siteRemarks":          true,
	"qsRemarks":            true,
	"financeRemarks":       true,
	"accountsRemarks":      true,
	"stages":               true,
	"version":              true,
	"createdAt":            true,
	"updatedAt":            true,
}

func init() {
	for _, key := range []entity.StageKey{
		entity.StageQualityInspector, entity.StageQSInspection, entity.StageQSCOP, entity.StageMIGO,
		entity.StageSiteEngineer, entity.StageArchitect, entity.StageSiteIncharge, entity.StageSiteDispatch,
		entity.StagePIMOMumbai, entity.StageQSMumbai, entity.StagePIMOVerification, entity.StageITDept,
		entity.StageSES, entity.StagePIMODispatch, entity.StageApproval, entity.StagePIMOReturn,
		entity.StageAccountsDept, entity.StageBooking, entity.StagePayment,
	} {
		workflowFields[string(key)] = true
	}
}

// IsWorkflowField reports whether key names a field owned by the transition engine
func IsWorkflowField(key string) bool {
	return workflowFields[key]
}

// ApplyBusinessPatch writes whitelisted business fields onto bill.
// The bill is left untouched when any key is refused.
func ApplyBusinessPatch(bill *entity.Bill, patch map[string]interface{}) error {
	for key := range patch {
		if workflowFields[key] {
			return fmt.Errorf("%w: %s is managed by the workflow and cannot be edited", workflow.ErrInvalidInput, key)
		}
	}

	next := *bill
	for key, value := range patch {
		var err error
		switch key {
		case "vendorName":
			next.VendorName, err = asString(key, value)
			if err == nil && next.VendorName == "" {
				err = fmt.Errorf("%w: vendorName must not be empty", workflow.ErrInvalidInput)
			}
		case "vendorNo":
			next.VendorNo, err = asString(key, value)
		case "poNumber":
			next.PONumber, err = asString(key, value)
		case "poDate":
			next.PODate, err = asTime(key, value)
		case "taxInvoiceNo":
			next.TaxInvoiceNo, err = asString(key, value)
		case "taxInvoiceDate":
			next.TaxInvoiceDate, err = asTime(key, value)
		case "taxInvoiceAmount":
			next.TaxInvoiceAmount, err = asFloat(key, value)
			if err == nil && next.TaxInvoiceAmount < 0 {
				err = fmt.Errorf("%w: taxInvoiceAmount must not be negative", workflow.ErrInvalidInput)
			}
		case "currency":
			next.Currency, err = asString(key, value)
		case "region":
			next.Region, err = asString(key, value)
		case "projectDescription":
			next.ProjectDescription, err = asString(key, value)
		case "natureOfWork":
			next.NatureOfWork, err = asString(key, value)
			if err == nil && !entity.ValidNatureOfWork(next.NatureOfWork) {
				err = fmt.Errorf("%w: unknown natureOfWork %q", workflow.ErrInvalidInput, next.NatureOfWork)
			}
		case "department":
			next.Department, err = asString(key, value)
		default:
			err = fmt.Errorf("%w: unknown field %s", workflow.ErrInvalidInput, key)
		}
		if err != nil {
			return err
		}
	}

	*bill = next
	return nil
}

func asString(key string, v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s must be a string", workflow.ErrInvalidInput, key)
	}
}

func asFloat(key string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", workflow.ErrInvalidInput, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", workflow.ErrInvalidInput, key)
	}
}

// asTime accepts RFC 3339 timestamps and plain dates
func asTime(key string, v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", workflow.ErrInvalidInput, key)
	default:
		return nil, fmt.Errorf("%w: %s must be a date string", workflow.ErrInvalidInput, key)
	}
}
