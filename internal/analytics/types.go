// Package analytics holds the response shapes served by the analytics
// service and the ordered query filters sent to it.
package analytics

import "time"

// Envelope is the wire wrapper every analytics endpoint responds with.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Summary holds the scalar headline metrics.
type Summary struct {
	TotalCustomers    int     `json:"totalCustomers"`
	ActiveCustomers   int     `json:"activeCustomers"`
	NewCustomers      int     `json:"newCustomers"`
	TotalMRR          float64 `json:"totalMRR"`
	ARR               float64 `json:"arr"`
	ARPU              float64 `json:"arpu"`
	CustomerChurnRate float64 `json:"customerChurnRate"`
	RevenueChurnRate  float64 `json:"revenueChurnRate"`
}

// MRRPoint is one period of the monthly recurring revenue series.
type MRRPoint struct {
	Date       string  `json:"date"`
	MRR        float64 `json:"mrr"`
	NewMRR     float64 `json:"newMRR"`
	ChurnedMRR float64 `json:"churnedMRR"`
	NetNewMRR  float64 `json:"netNewMRR"`
}

type ChurnTrend struct {
	Date              string  `json:"date"`
	CustomerChurnRate float64 `json:"customerChurnRate"`
	RevenueChurnRate  float64 `json:"revenueChurnRate"`
	ChurnedCustomers  int     `json:"churnedCustomers"`
}

type Churn struct {
	CustomerChurnRate float64      `json:"customerChurnRate"`
	RevenueChurnRate  float64      `json:"revenueChurnRate"`
	ChurnTrends       []ChurnTrend `json:"churnTrends"`
}

type PlanMetric struct {
	PlanID         string  `json:"planId"`
	PlanName       string  `json:"planName"`
	ProductID      string  `json:"productId"`
	TotalCustomers int     `json:"totalCustomers"`
	MRR            float64 `json:"mrr"`
	ChurnRate      float64 `json:"churnRate"`
	AvgLifetime    float64 `json:"avgLifetime"`
}

type ProductMetric struct {
	ProductID      string  `json:"productId"`
	ProductName    string  `json:"productName"`
	TotalCustomers int     `json:"totalCustomers"`
	MRR            float64 `json:"mrr"`
	ChurnRate      float64 `json:"churnRate"`
}

type Subscription struct {
	ID        string  `json:"id"`
	PlanID    string  `json:"planId"`
	Status    string  `json:"status"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate,omitempty"`
	Amount    float64 `json:"amount"`
}

type Transaction struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Status string  `json:"status"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

type Customer struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Status         string         `json:"status"`
	SignupDate     string         `json:"signupDate"`
	PlanID         string         `json:"planId"`
	ProductID      string         `json:"productId"`
	MonthlyRevenue float64        `json:"monthlyRevenue"`
	Subscriptions  []Subscription `json:"subscriptions"`
	Transactions   []Transaction  `json:"transactions"`
}

// Result combines the six independently fetched sections. No section refers
// to another; they are joined by position only.
type Result struct {
	Summary     Summary         `json:"summary"`
	MRR         []MRRPoint      `json:"mrr"`
	Churn       Churn           `json:"churn"`
	Plans       []PlanMetric    `json:"plans"`
	Products    []ProductMetric `json:"products"`
	Customers   []Customer      `json:"customers"`
	Filters     Filters         `json:"filters"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// Section names, which double as endpoint paths on the analytics service.
const (
	SectionSummary   = "summary"
	SectionMRR       = "mrr"
	SectionChurn     = "churn"
	SectionPlans     = "plans"
	SectionProducts  = "products"
	SectionCustomers = "customers"
)

// Sections lists every section in the order the dashboard renders them.
var Sections = []string{
	SectionSummary,
	SectionMRR,
	SectionChurn,
	SectionPlans,
	SectionProducts,
	SectionCustomers,
}

// IsSection reports whether name is one of the six analytics sections.
func IsSection(name string) bool {
	for _, s := range Sections {
		if s == name {
			return true
		}
	}
	return false
}
