package solarapi

// ProductDetails describes one catalog entry as returned by the solar company API.
type ProductDetails struct {
	ProductID          string  `json:"productId"`
	ProductName        string  `json:"productName"`
	Manufacturer       string  `json:"manufacturer"`
	Efficiency         float64 `json:"efficiency"` // percentage
	WarrantyYears      int     `json:"warrantyYears"`
	PowerOutput        float64 `json:"powerOutput"` // kW
	Dimensions         string  `json:"dimensions"`
	ProductDescription string  `json:"productDescription"`
}

type ProductListResponse struct {
	Products []ProductDetails `json:"products"`
}

type ProductDetailsResponse struct {
	ProductDetails ProductDetails `json:"product_details"`
}

// Pricing carries base cost and financing information for one product.
type Pricing struct {
	ProductID          string   `json:"productId"`
	BasePrice          float64  `json:"basePrice"`
	AvailableFinancing bool     `json:"availableFinancing"`
	FinancingOptions   []string `json:"financingOptions"`
}

type PricingResponse struct {
	Pricing Pricing `json:"pricing"`
}

type InstallationAvailability struct {
	ZipCode        string   `json:"zipCode"`
	AvailableDates []string `json:"availableDates"`
	PreferredDate  string   `json:"preferredDate,omitempty"`
}

type InstallationAvailabilityResponse struct {
	InstallationAvailability InstallationAvailability `json:"installation_availability"`
}

type SavingsEstimates struct {
	EstimatedSavings   float64 `json:"estimatedSavings"` // dollars
	EnergyOffset       float64 `json:"energyOffset"`     // percentage
	PaybackPeriodYears float64 `json:"paybackPeriodYears"`
}

type SavingsEstimatesResponse struct {
	SavingsEstimates SavingsEstimates `json:"savings_estimates"`
}

type Incentives struct {
	State               string  `json:"state"`
	FederalIncentive    string  `json:"federalIncentive"`
	StateIncentive      string  `json:"stateIncentive"`
	RebateProgram       string  `json:"rebateProgram"`
	TaxCreditPercentage float64 `json:"taxCreditPercentage"`
}

type IncentivesResponse struct {
	Incentives Incentives `json:"incentives"`
}

// Snapshot is a live price observation for one product.
type Snapshot struct {
	Price            float64 `json:"price"`
	ProductID        string  `json:"productId"`
	DayChange        float64 `json:"day_change"`
	DayChangePercent float64 `json:"day_change_percent"`
	Time             string  `json:"time"`
	TimeNanoseconds  int64   `json:"time_nanoseconds"`
}

type SnapshotResponse struct {
	Snapshot Snapshot `json:"snapshot"`
}
