package entity

import "time"

// StageKey names a stage sub-record on a bill
type StageKey string

const (
	StageQualityInspector StageKey = "qualityInspector"
	StageQSInspection     StageKey = "qsInspection"
	StageQSCOP            StageKey = "qsCOP"
	StageMIGO             StageKey = "migoDetails"
	StageSiteEngineer     StageKey = "siteEngineer"
	StageArchitect        StageKey = "architect"
	StageSiteIncharge     StageKey = "siteIncharge"
	StageSiteDispatch     StageKey = "siteDispatch"
	StagePIMOMumbai       StageKey = "pimoMumbai"
	StageQSMumbai         StageKey = "qsMumbai"
	StagePIMOVerification StageKey = "pimoVerification"
	StageITDept           StageKey = "itDept"
	StageSES              StageKey = "sesDetails"
	StagePIMODispatch     StageKey = "pimoDispatch"
	StageApproval         StageKey = "approvalDetails"
	StagePIMOReturn       StageKey = "pimoReturn"
	StageAccountsDept     StageKey = "accountsDept"
	StageBooking          StageKey = "bookingDetails"
	StagePayment          StageKey = "paymentDetails"
)

// StageRecord is the stamp left on a bill when it reaches a stage
type StageRecord struct {
	DateGiven    *time.Time `json:"dateGiven,omitempty" bson:"dateGiven,omitempty"`
	DateReceived *time.Time `json:"dateReceived,omitempty" bson:"dateReceived,omitempty"`
	Name         string     `json:"name,omitempty" bson:"name,omitempty"`
}

// HistoryEntry is one immutable line of the embedded workflow ledger
type HistoryEntry struct {
	State     string    `json:"state" bson:"state"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Actor     string    `json:"actor" bson:"actor"`
	Comments  string    `json:"comments,omitempty" bson:"comments,omitempty"`
	Action    string    `json:"action" bson:"action"`
}

// WorkflowState is the workflow position embedded on a bill
type WorkflowState struct {
	CurrentState string         `json:"currentState" bson:"currentState"`
	LastUpdated  time.Time      `json:"lastUpdated" bson:"lastUpdated"`
	History      []HistoryEntry `json:"history" bson:"history"`
}

// Bill is a construction-procurement bill tracked through the approval pipeline
type Bill struct {
	ID                   string `json:"id" bson:"_id"`
	SerialNo             string `json:"serialNo" bson:"serialNo"`
	OriginalImportSerial string `json:"originalImportSerial,omitempty" bson:"originalImportSerial,omitempty"`

	// Business fields
	VendorName         string     `json:"vendorName" bson:"vendorName"`
	VendorNo           string     `json:"vendorNo,omitempty" bson:"vendorNo,omitempty"`
	PONumber           string     `json:"poNumber,omitempty" bson:"poNumber,omitempty"`
	PODate             *time.Time `json:"poDate,omitempty" bson:"poDate,omitempty"`
	TaxInvoiceNo       string     `json:"taxInvoiceNo,omitempty" bson:"taxInvoiceNo,omitempty"`
	TaxInvoiceDate     *time.Time `json:"taxInvoiceDate,omitempty" bson:"taxInvoiceDate,omitempty"`
	TaxInvoiceAmount   float64    `json:"taxInvoiceAmount" bson:"taxInvoiceAmount"`
	Currency           string     `json:"currency,omitempty" bson:"currency,omitempty"`
	Region             string     `json:"region,omitempty" bson:"region,omitempty"`
	ProjectDescription string     `json:"projectDescription,omitempty" bson:"projectDescription,omitempty"`
	NatureOfWork       string     `json:"natureOfWork" bson:"natureOfWork"`
	Department         string     `json:"department,omitempty" bson:"department,omitempty"`

	// Workflow fields, mutated only by the transition engine
	CurrentCount    int                       `json:"currentCount" bson:"currentCount"`
	MaxCount        int                       `json:"maxCount" bson:"maxCount"`
	WorkflowState   WorkflowState             `json:"workflowState" bson:"workflowState"`
	Status          string                    `json:"status" bson:"status"`
	SiteStatus      string                    `json:"siteStatus" bson:"siteStatus"`
	SiteRemarks     string                    `json:"siteRemarks,omitempty" bson:"siteRemarks,omitempty"`
	QSRemarks       string                    `json:"qsRemarks,omitempty" bson:"qsRemarks,omitempty"`
	FinanceRemarks  string                    `json:"financeRemarks,omitempty" bson:"financeRemarks,omitempty"`
	AccountsRemarks string                    `json:"accountsRemarks,omitempty" bson:"accountsRemarks,omitempty"`
	Stages          map[StageKey]*StageRecord `json:"stages" bson:"stages"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Stage returns the stage record for key, or nil when it was never stamped
func (b *Bill) Stage(key StageKey) *StageRecord {
	if b.Stages == nil {
		return nil
	}
	return b.Stages[key]
}

// StageGiven reports whether the stage record has a dateGiven stamp
func (b *Bill) StageGiven(key StageKey) bool {
	rec := b.Stage(key)
	return rec != nil && rec.DateGiven != nil
}

// SetStage replaces the stage record for key
func (b *Bill) SetStage(key StageKey, rec *StageRecord) {
	if b.Stages == nil {
		b.Stages = make(map[StageKey]*StageRecord)
	}
	b.Stages[key] = rec
}

// Clone returns a deep copy so a failed transition never leaks into the caller's bill
func (b *Bill) Clone() *Bill {
	if b == nil {
		return nil
	}
	c := *b
	c.PODate = cloneTime(b.PODate)
	c.TaxInvoiceDate = cloneTime(b.TaxInvoiceDate)
	c.WorkflowState.History = append([]HistoryEntry(nil), b.WorkflowState.History...)
	if b.Stages != nil {
		c.Stages = make(map[StageKey]*StageRecord, len(b.Stages))
		for k, v := range b.Stages {
			if v == nil {
				continue
			}
			rec := *v
			rec.DateGiven = cloneTime(v.DateGiven)
			rec.DateReceived = cloneTime(v.DateReceived)
			c.Stages[k] = &rec
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
