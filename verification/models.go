package verification

// Milestone captures the completion facts the milestone registry exposes for
// one project milestone.
type Milestone struct {
	ProjectID         string
	MilestoneID       string
	Completed         bool
	Verified          bool
	PaymentPercentage int
}

// Inspection captures the pass/fail facts the inspection registry exposes.
type Inspection struct {
	ProjectID    string
	InspectionID string
	Status       string
	Passed       bool
}

// Contractor captures the legitimacy facts the contractor registry exposes.
type Contractor struct {
	ID         string
	Name       string
	IsVerified bool
	Rating     int
}
