package intake

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/Davelummy/taxagent/internal/estimate"
	"github.com/Davelummy/taxagent/internal/form"
)

// Validation messages returned to clients verbatim.
const (
	MsgMissingFields   = "Missing or invalid required fields."
	MsgInvalidSSN      = "Invalid SSN."
	MsgInvalidIPPIN    = "Invalid IP PIN."
	MsgInvalidYear     = "Invalid filing year."
	MsgDependents      = "Dependents must be between 0 and 20."
	MsgInvalidStatus   = "Invalid filing status."
	MsgMissingIntakeID = "Missing intake identifier."
	MsgMissingClient   = "Missing client identifier."
)

// Fields is the intake form payload.
type Fields struct {
	IntakeID        form.Value `json:"intake_id"`
	FirstName       form.Value `json:"first_name"`
	LastName        form.Value `json:"last_name"`
	SSN             form.Value `json:"ssn"`
	IPPIN           form.Value `json:"ip_pin"`
	FilingYear      form.Value `json:"filing_year"`
	DOB             form.Value `json:"dob"`
	Email           form.Value `json:"email"`
	Phone           form.Value `json:"phone"`
	Employer        form.Value `json:"employer"`
	Wages           form.Value `json:"wages"`
	Withholding     form.Value `json:"federal_withholding"`
	Income1099      form.Value `json:"income_1099"`
	Investment      form.Value `json:"investment_income"`
	Retirement      form.Value `json:"retirement"`
	OtherIncome     form.Value `json:"other_income"`
	Mortgage        form.Value `json:"mortgage"`
	Charity         form.Value `json:"charity"`
	StudentLoan     form.Value `json:"student_loan"`
	Dependents      form.Value `json:"dependents"`
	HSA             form.Value `json:"hsa"`
	OtherDeductions form.Value `json:"other_deductions"`
	FilingStatus    form.Value `json:"filing_status"`
	FilingMethod    form.Value `json:"filing_method"`
	ContactMethod   form.Value `json:"contact_method"`
	Notes           form.Value `json:"notes"`
	Consent         form.Value `json:"consent"`
	ClientUserID    form.Value `json:"client_user_id"`
	ClientUsername  form.Value `json:"client_username"`
}

// checked is the normalized shape the validator runs against.
type checked struct {
	FirstName    string `validate:"required"`
	LastName     string `validate:"required"`
	DOB          string `validate:"required"`
	Email        string `validate:"required"`
	Phone        string `validate:"required"`
	FilingStatus string `validate:"required,oneof=single married_joint married_separate head_household"`
	Consent      bool   `validate:"required"`
	SSN          string `validate:"omitempty,len=9"`
	IPPIN        string `validate:"omitempty,len=6"`
	FilingYear   int    `validate:"required,min=2000,max=2100"`
	Dependents   *int   `validate:"omitnil,min=0,max=20"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// failure is one validation problem ranked by how early the form reports it.
type failure struct {
	rank    int
	message string
}

// validateChecked returns the highest-priority message among all failures:
// missing fields first, then SSN, IP PIN, year, dependents, filing status.
// extra carries checks that depend on stored state.
func validateChecked(c checked, extra ...failure) error {
	err := validate.Struct(c)
	var errs validator.ValidationErrors
	if err != nil && !errors.As(err, &errs) {
		return &form.ValidationError{Message: MsgMissingFields, Err: err}
	}
	if len(errs) == 0 && len(extra) == 0 {
		return nil
	}
	best := failure{rank: 1 << 30, message: MsgMissingFields}
	for _, fe := range errs {
		if f := rankOf(fe); f.rank < best.rank {
			best = f
		}
	}
	for _, f := range extra {
		if f.rank < best.rank {
			best = f
		}
	}
	return &form.ValidationError{Message: best.message, Err: err}
}

func rankOf(fe validator.FieldError) failure {
	switch fe.Field() {
	case "SSN":
		return failure{1, MsgInvalidSSN}
	case "IPPIN":
		return failure{2, MsgInvalidIPPIN}
	case "FilingYear":
		return failure{3, MsgInvalidYear}
	case "Dependents":
		return failure{4, MsgDependents}
	}
	if fe.Tag() == "required" {
		return failure{0, MsgMissingFields}
	}
	if fe.Field() == "FilingStatus" {
		return failure{5, MsgInvalidStatus}
	}
	return failure{0, MsgMissingFields}
}

func (f Fields) normalized(email string) checked {
	year := 0
	if y := f.FilingYear.Int(); y != nil {
		year = *y
	}
	return checked{
		FirstName:    str(f.FirstName.Text()),
		LastName:     str(f.LastName.Text()),
		DOB:          str(f.DOB.Text()),
		Email:        email,
		Phone:        str(f.Phone.Text()),
		FilingStatus: str(f.FilingStatus.Text()),
		Consent:      f.Consent.Checked(),
		SSN:          f.SSN.Digits(9),
		IPPIN:        f.IPPIN.Digits(6),
		FilingYear:   year,
		Dependents:   f.Dependents.Int(),
	}
}

func (f Fields) estimateInput(c checked) estimate.Input {
	return estimate.Input{
		FilingYear:         c.FilingYear,
		FilingStatus:       c.FilingStatus,
		Wages:              f.Wages.Amount(),
		Income1099:         f.Income1099.Amount(),
		InvestmentIncome:   f.Investment.Amount(),
		Retirement:         f.Retirement.Amount(),
		Mortgage:           f.Mortgage.Amount(),
		Charity:            f.Charity.Amount(),
		StudentLoan:        f.StudentLoan.Amount(),
		HSA:                f.HSA.Amount(),
		FederalWithholding: f.Withholding.Amount(),
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
