package internal

import "time"

type ProductType string

const (
	ProductLaptop  ProductType = "laptop"
	ProductMonitor ProductType = "monitor"
	ProductDesktop ProductType = "desktop"
)

func ParseProductType(s string) (ProductType, bool) {
	switch ProductType(s) {
	case ProductLaptop, ProductMonitor, ProductDesktop:
		return ProductType(s), true
	default:
		return "", false
	}
}

// Watch criteria. Free-text fields are kept as the operator typed them
// ("16 GB", "1 TB", "450 EUR"); empty means unset.

type LaptopCriterion struct {
	ID            string `json:"id"`
	Model         string `json:"model"`
	RAMFrom       string `json:"ramFrom"`
	RAMTo         string `json:"ramTo"`
	StorageFrom   string `json:"storageFrom"`
	StorageTo     string `json:"storageTo"`
	GradeFrom     string `json:"gradeFrom"`
	GradeTo       string `json:"gradeTo"`
	GraphicsCard  string `json:"graphicsCard"`
	MaxPriceWorst string `json:"maxPriceWorst"`
	MaxPriceBest  string `json:"maxPriceBest"`
}

type MonitorCriterion struct {
	ID            string   `json:"id"`
	SizeInchesMin *float64 `json:"sizeInchesMin"`
	SizeInchesMax *float64 `json:"sizeInchesMax"`
	ResolutionMin string   `json:"resolutionMin"`
	ResolutionMax string   `json:"resolutionMax"`
	MaxPrice      string   `json:"maxPrice"`
}

type DesktopCriterion struct {
	ID          string `json:"id"`
	CaseType    string `json:"caseType"`
	RAMFrom     string `json:"ramFrom"`
	RAMTo       string `json:"ramTo"`
	StorageFrom string `json:"storageFrom"`
	StorageTo   string `json:"storageTo"`
	MaxPrice    string `json:"maxPrice"`
}

// Extracted items. Price carries its own currency marker; Amount <= 0 means 1.

type LaptopSpec struct {
	Model        string `json:"model"`
	RAM          string `json:"ram"`
	Storage      string `json:"storage"`
	Price        string `json:"price"`
	GraphicsCard string `json:"graphicsCard"`
	Amount       int    `json:"amount"`
}

type MonitorSpec struct {
	Model      string `json:"model"`
	SizeInches string `json:"sizeInches"`
	Resolution string `json:"resolution"`
	Price      string `json:"price"`
	Amount     int    `json:"amount"`
}

type DesktopSpec struct {
	Model    string `json:"model"`
	CaseType string `json:"caseType"`
	RAM      string `json:"ram"`
	Storage  string `json:"storage"`
	Price    string `json:"price"`
	Amount   int    `json:"amount"`
}

type LaptopOffer struct {
	Laptops       []LaptopSpec
	Grade         string
	TotalPrice    string
	TotalQuantity int
}

type MonitorOffer struct {
	Monitors      []MonitorSpec
	Grade         string
	TotalPrice    string
	TotalQuantity int
}

type DesktopOffer struct {
	Desktops      []DesktopSpec
	Grade         string
	TotalPrice    string
	TotalQuantity int
}

// Units returns the amount a single line stands for.
func Units(amount int) int {
	if amount > 0 {
		return amount
	}
	return 1
}

type OfferDetails struct {
	ProductType string `json:"productType"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Price       string `json:"price"`
	Discount    string `json:"discount"`
	Store       string `json:"store"`
}

type OfferAnalysis struct {
	IsOffer    bool
	Confidence int
	Category   string
	Details    OfferDetails
	Reasoning  string
	Fallback   bool
}

type MatchOutcome struct {
	ProductType     ProductType
	Item            string
	CriterionID     string
	IdentityMatched bool
	AllowedPrice    float64
	ActualUnitPrice float64
	Amount          int
	IsMatch         bool
	Reason          string
}

type BatchMatchResult struct {
	ProductType            ProductType
	TotalUnits             int
	MatchedInCriteriaUnits int
	MatchedWithPriceUnits  int
	IdentityPct            float64
	PricePct               float64
	Threshold              int
	AllMatched             bool
	ShouldNotify           bool
	Outcomes               []MatchOutcome
}

type StatStatus string

const (
	StatProcessed StatStatus = "processed"
	StatAccepted  StatStatus = "accepted"
	StatRejected  StatStatus = "rejected"
)

type StatRecord struct {
	ID          string
	Status      StatStatus
	Reason      string
	Subject     string
	From        string
	ProductType ProductType
	CreatedAt   time.Time
}

type StatsSummary struct {
	Days      int
	Processed int
	Accepted  int
	Rejected  int
}

type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

// MailMessage is a decoded mail. UID is set by the IMAP source, SourceRef
// carries the provider's own handle (the Gmail message id).
type MailMessage struct {
	UID         uint32
	SourceRef   string
	Provider    string
	MessageID   string
	Subject     string
	From        string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []Attachment
	Raw         []byte
}
