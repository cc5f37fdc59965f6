package model

// Company is a candidate beneficiary organization.
type Company struct {
	ID               int64  `json:"company_id"`
	Name             string `json:"company_name"`
	CAEPrimaryLabel  string `json:"cae_primary_label"`
	TradeDescription string `json:"trade_description_native"`
}
