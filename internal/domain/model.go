package domain

import "time"

// Core domain models shared by the engine, the store adapters and the HTTP
// layer. They carry json tags because they are persisted as jsonb and served
// directly by the API.

// MinPublishQuality is the lowest audit quality percentage a donation may have
// and still be published.
const MinPublishQuality = 70

type DetectedItem struct {
	Name     string             `json:"name"`
	Category IngredientCategory `json:"category"`
}

type ImpactBreakdownItem struct {
	Name     string             `json:"name"`
	Category IngredientCategory `json:"category"`
	WeightKg float64            `json:"weightKg"`
	Factor   float64            `json:"factor"`
	Result   float64            `json:"result"`
}

type ImpactResult struct {
	TotalPoints      int                   `json:"totalPoints"`
	CO2Saved         float64               `json:"co2Saved"`
	WaterSaved       float64               `json:"waterSaved"`
	LandSaved        float64               `json:"landSaved"`
	WasteReduction   float64               `json:"wasteReduction"`
	Level            string                `json:"level"`
	CO2Breakdown     []ImpactBreakdownItem `json:"co2Breakdown"`
	SocialBreakdown  []ImpactBreakdownItem `json:"socialBreakdown"`
	PortionCount     int                   `json:"portionCount"`
	CO2PerPortion    float64               `json:"co2PerPortion"`
	PointsPerPortion int                   `json:"pointsPerPortion"`
}

// AuditSource tells callers whether an AuditResult came from the classifier or
// from the local fallback.
type AuditSource string

const (
	SourceClassifier AuditSource = "classifier"
	SourceFallback   AuditSource = "fallback"
)

// FallbackNote is attached to every fallback AuditResult.
const FallbackNote = "automatic audit unavailable; conservative default verdict applied"

type AuditResult struct {
	IsSafe              bool               `json:"isSafe"`
	IsHalal             bool               `json:"isHalal"`
	HalalScore          int                `json:"halalScore"`
	HygieneScore        int                `json:"hygieneScore"`
	QualityPercentage   int                `json:"qualityPercentage"`
	ShelfLifePrediction string             `json:"shelfLifePrediction"`
	DetectedItems       []DetectedItem     `json:"detectedItems"`
	DetectedCategory    IngredientCategory `json:"detectedCategory"`
	StorageTips         []string           `json:"storageTips"`
	Impact              ImpactResult       `json:"impact"`
	Source              AuditSource        `json:"source"`
	Note                string             `json:"note,omitempty"`
}

// Publishable reports whether the verdict allows the donation to be listed.
func (a AuditResult) Publishable() bool {
	return a.IsSafe && a.QualityPercentage >= MinPublishQuality
}

// AuditContext is the donor-declared metadata sent along with the photo.
type AuditContext struct {
	FoodName          string    `json:"foodName" validate:"required"`
	Ingredients       string    `json:"ingredients"`
	MadeTime          time.Time `json:"madeTime"`
	StorageLocation   string    `json:"storageLocation"`
	WeightGram        float64   `json:"weightGram"`
	PackagingType     string    `json:"packagingType"`
	DistributionStart time.Time `json:"distributionStart"`
	QuantityCount     int       `json:"quantityCount"`
}

type DonationStatus string

const (
	DonationAvailable  DonationStatus = "available"
	DonationOutOfStock DonationStatus = "out_of_stock"
)

type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryCourier DeliveryMethod = "delivery"
)

// AuditSummary is the part of an AuditResult kept on a published donation.
type AuditSummary struct {
	IsHalal             bool               `json:"isHalal"`
	HalalScore          int                `json:"halalScore"`
	HygieneScore        int                `json:"hygieneScore"`
	QualityPercentage   int                `json:"qualityPercentage"`
	ShelfLifePrediction string             `json:"shelfLifePrediction"`
	DetectedCategory    IngredientCategory `json:"detectedCategory"`
	StorageTips         []string           `json:"storageTips"`
	Source              AuditSource        `json:"source"`
}

// Donation is a published food item. CurrentQuantity only ever moves through
// the store's claim transaction.
type Donation struct {
	ID                string           `json:"id"`
	ProviderID        string           `json:"providerId"`
	FoodName          string           `json:"foodName"`
	Description       string           `json:"description,omitempty"`
	InitialQuantity   int              `json:"initialQuantity"`
	CurrentQuantity   int              `json:"currentQuantity"`
	WeightGram        float64          `json:"weightGram"`
	Packaging         Packaging        `json:"packaging"`
	DeliveryMethods   []DeliveryMethod `json:"deliveryMethods"`
	DistributionStart time.Time        `json:"distributionStart"`
	DistributionEnd   *time.Time       `json:"distributionEnd,omitempty"`
	Status            DonationStatus   `json:"status"`
	Audit             AuditSummary     `json:"audit"`
	Impact            ImpactResult     `json:"impact"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Claimable reports whether any stock is left to claim.
func (d Donation) Claimable() bool {
	return d.Status == DonationAvailable && d.CurrentQuantity > 0
}

// SupportsDelivery reports whether the provider offers the given method. An
// empty list means pickup only.
func (d Donation) SupportsDelivery(m DeliveryMethod) bool {
	if len(d.DeliveryMethods) == 0 {
		return m == DeliveryPickup
	}
	for _, dm := range d.DeliveryMethods {
		if dm == m {
			return true
		}
	}
	return false
}

type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimCompleted ClaimStatus = "completed"
	ClaimCancelled ClaimStatus = "cancelled"
)

type CourierStatus string

const (
	CourierNone       CourierStatus = ""
	CourierPickingUp  CourierStatus = "picking_up"
	CourierDelivering CourierStatus = "delivering"
	CourierCompleted  CourierStatus = "completed"
)

type ClaimRecord struct {
	ID                 string         `json:"id"`
	DonationID         string         `json:"donationId"`
	ProviderID         string         `json:"providerId"`
	FoodName           string         `json:"foodName"`
	RequesterID        string         `json:"requesterId"`
	ClaimedQuantity    int            `json:"claimedQuantity"`
	ProportionalImpact ImpactResult   `json:"proportionalImpact"`
	UniqueCode         string         `json:"uniqueCode"`
	Status             ClaimStatus    `json:"status"`
	DeliveryMethod     DeliveryMethod `json:"deliveryMethod"`
	CourierID          string         `json:"courierId,omitempty"`
	CourierStatus      CourierStatus  `json:"courierStatus,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	CancelledAt        *time.Time     `json:"cancelledAt,omitempty"`
}

// Terminal reports whether no further status transition is allowed.
func (c ClaimRecord) Terminal() bool {
	return c.Status == ClaimCompleted || c.Status == ClaimCancelled
}
